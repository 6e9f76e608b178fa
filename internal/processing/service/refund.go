package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/mixforge/mixforge/internal/account/domain"
	creditdomain "github.com/mixforge/mixforge/internal/credit/domain"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
	projectdomain "github.com/mixforge/mixforge/internal/project/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Refund returns the credits of a FAILED job exactly once. The guard is a
// conditional update on refunded_at checked by affected-row count, so
// redelivered failure notifications and concurrent triggers degrade to
// no-ops rather than errors.
func (s *Service) Refund(ctx context.Context, jobID snowflake.ID) error {
	refunded := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job processingdomain.ProcessingJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return processingdomain.ErrJobNotFound
			}
			return err
		}
		if job.Status != processingdomain.JobStatusFailed || job.RefundedAt != nil {
			return nil
		}

		now := s.clock.Now()
		result := tx.Model(&processingdomain.ProcessingJob{}).
			Where("id = ? AND status = ? AND refunded_at IS NULL", jobID, processingdomain.JobStatusFailed).
			Updates(map[string]any{
				"refunded_at": now,
				"updated_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		var project projectdomain.Project
		if err := tx.First(&project, "id = ?", job.ProjectID).Error; err != nil {
			return err
		}

		if err := tx.Model(&accountdomain.User{}).
			Where("id = ?", project.UserID).
			Updates(map[string]any{
				"credits":    gorm.Expr("credits + ?", job.CreditsUsed),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		if err := tx.Create(&creditdomain.CreditTransaction{
			ID:          s.genID.Generate(),
			UserID:      project.UserID,
			Type:        creditdomain.TransactionTypeRefund,
			Amount:      job.CreditsUsed,
			Description: "Refund for failed processing job",
			ReferenceID: &jobID,
			CreatedAt:   now,
		}).Error; err != nil {
			return err
		}

		refunded = true
		return nil
	})
	if err != nil {
		return err
	}

	if refunded {
		s.metrics.RecordRefund()
		s.log.Info("credits refunded", zap.String("job_id", jobID.String()))
	}
	return nil
}
