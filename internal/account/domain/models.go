// Package domain contains persistence models for platform accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User owns projects and a metered credit balance. The balance is mutated only
// by the credit service (admission debit, refund, bonus) and the external
// purchase flow.
type User struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Email     string       `gorm:"type:text;not null;uniqueIndex"`
	Credits   int64        `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }
