package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ListTransactionsRequest struct {
	UserID snowflake.ID
	Limit  int
}

type Service interface {
	// Balance returns the user's current credit balance.
	Balance(ctx context.Context, userID snowflake.ID) (int64, error)
	// ListTransactions returns the user's most recent ledger rows.
	ListTransactions(ctx context.Context, req ListTransactionsRequest) ([]CreditTransaction, error)
	// GrantBonus credits the user outside the admission/refund flow.
	GrantBonus(ctx context.Context, userID snowflake.ID, amount int64, description string) (*CreditTransaction, error)
}

var (
	ErrUserNotFound  = errors.New("user_not_found")
	ErrInvalidAmount = errors.New("invalid_amount")
)
