// Package domain contains the append-only credit ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionType classifies ledger rows.
type TransactionType string

const (
	TransactionTypePurchase TransactionType = "PURCHASE"
	TransactionTypeUsage    TransactionType = "USAGE"
	TransactionTypeRefund   TransactionType = "REFUND"
	TransactionTypeBonus    TransactionType = "BONUS"
)

// CreditTransaction is an immutable ledger row. Amount is signed: USAGE rows
// are negative, REFUND/PURCHASE/BONUS rows positive. At any quiescent point
// the sum of a user's rows equals the user's balance.
type CreditTransaction struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID    `gorm:"not null;index" json:"userId"`
	Type        TransactionType `gorm:"type:text;not null" json:"type"`
	Amount      int64           `gorm:"not null" json:"amount"`
	Description string          `gorm:"type:text;not null" json:"description"`
	// ReferenceID links USAGE and REFUND rows to the processing job they
	// settle.
	ReferenceID *snowflake.ID `gorm:"index" json:"referenceId,omitempty"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }
