package service

import (
	"context"
	"errors"
	"fmt"

	accountdomain "github.com/mixforge/mixforge/internal/account/domain"
	creditdomain "github.com/mixforge/mixforge/internal/credit/domain"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
	projectdomain "github.com/mixforge/mixforge/internal/project/domain"
	"github.com/mixforge/mixforge/internal/queue"
	"github.com/mixforge/mixforge/internal/settings"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Seconds of worker time assumed per output for the duration hint.
const estimatedSecondsPerOutput = 30

const minVideosForMixing = 2

// Start admits a processing request. Preconditions fail fast before any
// mutation; the debit, usage transaction, project flip and job row then
// commit as one transaction. The project flip is a conditional update guarded
// by affected-row count, so two concurrent starts for the same project cannot
// both succeed.
func (s *Service) Start(ctx context.Context, req processingdomain.StartRequest) (processingdomain.StartResponse, error) {
	var project projectdomain.Project
	err := s.db.WithContext(ctx).
		First(&project, "id = ? AND user_id = ?", req.ProjectID, req.UserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return processingdomain.StartResponse{}, processingdomain.ErrProjectNotFound
		}
		return processingdomain.StartResponse{}, err
	}
	if project.Status == projectdomain.ProjectStatusProcessing {
		return processingdomain.StartResponse{}, processingdomain.ErrProjectBusy
	}

	var videoCount int64
	err = s.db.WithContext(ctx).
		Model(&projectdomain.VideoFile{}).
		Where("project_id = ?", project.ID).
		Count(&videoCount).Error
	if err != nil {
		return processingdomain.StartResponse{}, err
	}
	if videoCount < minVideosForMixing {
		return processingdomain.StartResponse{}, processingdomain.ErrNotEnoughVideos
	}

	st, err := settings.Sanitize(req.RawSettings)
	if err != nil {
		return processingdomain.StartResponse{}, err
	}

	quote := s.pricing.Quote(st.OutputCount, st)

	var user accountdomain.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return processingdomain.StartResponse{}, creditdomain.ErrUserNotFound
		}
		return processingdomain.StartResponse{}, err
	}
	if user.Credits < quote.CreditsRequired {
		return processingdomain.StartResponse{}, &processingdomain.InsufficientCreditsError{
			Required:  quote.CreditsRequired,
			Available: user.Credits,
		}
	}

	snapshot, err := st.Snapshot()
	if err != nil {
		return processingdomain.StartResponse{}, err
	}

	jobID := s.genID.Generate()
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&projectdomain.Project{}).
			Where("id = ? AND status <> ?", project.ID, projectdomain.ProjectStatusProcessing).
			Updates(map[string]any{
				"status":     projectdomain.ProjectStatusProcessing,
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return processingdomain.ErrProjectBusy
		}

		result = tx.Model(&accountdomain.User{}).
			Where("id = ? AND credits >= ?", req.UserID, quote.CreditsRequired).
			Updates(map[string]any{
				"credits":    gorm.Expr("credits - ?", quote.CreditsRequired),
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Balance changed since the precondition read.
			return &processingdomain.InsufficientCreditsError{
				Required:  quote.CreditsRequired,
				Available: user.Credits,
			}
		}

		job := &processingdomain.ProcessingJob{
			ID:          jobID,
			ProjectID:   project.ID,
			Status:      processingdomain.JobStatusPending,
			CreditsUsed: quote.CreditsRequired,
			OutputCount: st.OutputCount,
			Settings:    datatypes.JSON(snapshot),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(job).Error; err != nil {
			return err
		}

		// Job row first so the usage transaction carries a real reference id.
		return tx.Create(&creditdomain.CreditTransaction{
			ID:          s.genID.Generate(),
			UserID:      req.UserID,
			Type:        creditdomain.TransactionTypeUsage,
			Amount:      -quote.CreditsRequired,
			Description: fmt.Sprintf("Video processing: %d outputs", st.OutputCount),
			ReferenceID: &jobID,
			CreatedAt:   now,
		}).Error
	})
	if err != nil {
		s.metrics.RecordAdmission("rejected")
		return processingdomain.StartResponse{}, err
	}

	if err := s.queue.Enqueue(ctx, queue.Task{
		JobID:       jobID,
		ProjectID:   project.ID,
		OutputCount: st.OutputCount,
		Settings:    st,
	}); err != nil {
		// The job is admitted; a supervising process re-dispatches stuck
		// PENDING jobs.
		s.log.Error("failed to enqueue admitted job",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}

	s.metrics.RecordAdmission("admitted")
	s.log.Info("job admitted",
		zap.String("job_id", jobID.String()),
		zap.String("project_id", project.ID.String()),
		zap.Int64("credits", quote.CreditsRequired),
		zap.Int("outputs", st.OutputCount),
	)

	return processingdomain.StartResponse{
		JobID:             jobID,
		CreditsDeducted:   quote.CreditsRequired,
		EstimatedDuration: st.OutputCount * estimatedSecondsPerOutput,
	}, nil
}
