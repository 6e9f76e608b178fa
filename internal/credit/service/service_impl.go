package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/mixforge/mixforge/internal/account/domain"
	"github.com/mixforge/mixforge/internal/clock"
	creditdomain "github.com/mixforge/mixforge/internal/credit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("credit.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	var user accountdomain.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, creditdomain.ErrUserNotFound
		}
		return 0, err
	}
	return user.Credits, nil
}

func (s *Service) ListTransactions(ctx context.Context, req creditdomain.ListTransactionsRequest) ([]creditdomain.CreditTransaction, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var rows []creditdomain.CreditTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", req.UserID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) GrantBonus(ctx context.Context, userID snowflake.ID, amount int64, description string) (*creditdomain.CreditTransaction, error) {
	if amount <= 0 {
		return nil, creditdomain.ErrInvalidAmount
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "Bonus credits"
	}

	row := &creditdomain.CreditTransaction{
		ID:          s.genID.Generate(),
		UserID:      userID,
		Type:        creditdomain.TransactionTypeBonus,
		Amount:      amount,
		Description: description,
		CreatedAt:   s.clock.Now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&accountdomain.User{}).
			Where("id = ?", userID).
			Update("credits", gorm.Expr("credits + ?", amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return creditdomain.ErrUserNotFound
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("bonus granted",
		zap.String("user_id", userID.String()),
		zap.Int64("amount", amount),
	)
	return row, nil
}
