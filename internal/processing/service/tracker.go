package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
	projectdomain "github.com/mixforge/mixforge/internal/project/domain"
	"github.com/mixforge/mixforge/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GetJob returns the job with its parsed settings snapshot and output list.
// This is the polling read model; push notification is an external concern.
func (s *Service) GetJob(ctx context.Context, userID, jobID snowflake.ID) (processingdomain.JobView, error) {
	job, _, err := s.loadOwnedJob(ctx, userID, jobID)
	if err != nil {
		return processingdomain.JobView{}, err
	}

	parsed, err := settings.FromSnapshot(job.Settings)
	if err != nil {
		return processingdomain.JobView{}, err
	}

	var outputs []processingdomain.OutputFile
	err = s.db.WithContext(ctx).
		Where("job_id = ?", job.ID).
		Order("created_at ASC, id ASC").
		Find(&outputs).Error
	if err != nil {
		return processingdomain.JobView{}, err
	}

	return processingdomain.JobView{Job: job, Settings: parsed, Outputs: outputs}, nil
}

// Cancel signals the worker to stop a PENDING/PROCESSING job. It returns
// immediately; the terminal state arrives later through ReportTerminal.
func (s *Service) Cancel(ctx context.Context, userID, jobID snowflake.ID) error {
	job, _, err := s.loadOwnedJob(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return processingdomain.ErrJobTerminal
	}

	if err := s.queue.Cancel(ctx, jobID); err != nil {
		// Best effort: the worker also observes the job row.
		s.log.Warn("cancel signal failed", zap.String("job_id", jobID.String()), zap.Error(err))
	}
	s.log.Info("cancel requested", zap.String("job_id", jobID.String()))
	return nil
}

// ReportProgress records worker progress. Progress only moves forward and
// only while the job is PROCESSING; the first report promotes a PENDING job.
// Regressed percentages from redelivered callbacks are dropped silently.
func (s *Service) ReportProgress(ctx context.Context, jobID snowflake.ID, percent int) error {
	if percent < 0 || percent > 100 {
		return processingdomain.ErrInvalidProgress
	}

	now := s.clock.Now()

	result := s.db.WithContext(ctx).Model(&processingdomain.ProcessingJob{}).
		Where("id = ? AND status = ?", jobID, processingdomain.JobStatusPending).
		Updates(map[string]any{
			"status":     processingdomain.JobStatusProcessing,
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}

	result = s.db.WithContext(ctx).Model(&processingdomain.ProcessingJob{}).
		Where("id = ? AND status = ? AND progress <= ?", jobID, processingdomain.JobStatusProcessing, percent).
		Updates(map[string]any{
			"progress":   percent,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var job processingdomain.ProcessingJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return processingdomain.ErrJobNotFound
		}
		return err
	}
	if job.Status.Terminal() {
		return processingdomain.ErrJobTerminal
	}
	return nil
}

// AddOutputFile registers a produced variant. Outputs may only be appended
// while the job runs or right as it completes.
func (s *Service) AddOutputFile(ctx context.Context, jobID snowflake.ID, filename, path string, size int64) (*processingdomain.OutputFile, error) {
	var job processingdomain.ProcessingJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, processingdomain.ErrJobNotFound
		}
		return nil, err
	}
	switch job.Status {
	case processingdomain.JobStatusProcessing, processingdomain.JobStatusCompleted:
	default:
		return nil, processingdomain.ErrOutputsClosed
	}

	output := &processingdomain.OutputFile{
		ID:        s.genID.Generate(),
		JobID:     jobID,
		Filename:  filename,
		Path:      path,
		Size:      size,
		CreatedAt: s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(output).Error; err != nil {
		return nil, err
	}
	return output, nil
}

// ReportTerminal confirms a terminal status from the worker. The transition
// is a conditional update over the allowed source statuses, so the state
// machine stays closed under redelivery and races; a redelivered report of
// the already-reached status is a no-op on the job row. A FAILED report
// triggers the refund in its own transaction afterwards, on redelivery too,
// so a refund lost between the two transactions is retried.
func (s *Service) ReportTerminal(ctx context.Context, jobID snowflake.ID, status processingdomain.JobStatus, errorMessage string) error {
	if !status.Terminal() {
		return processingdomain.ErrInvalidStatus
	}
	sources := processingdomain.TransitionSources(status)

	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job processingdomain.ProcessingJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return processingdomain.ErrJobNotFound
			}
			return err
		}

		now := s.clock.Now()
		updates := map[string]any{
			"status":       status,
			"completed_at": now,
			"updated_at":   now,
		}
		if msg := strings.TrimSpace(errorMessage); msg != "" {
			updates["error_message"] = msg
		}
		if status == processingdomain.JobStatusCompleted {
			updates["progress"] = 100
		}

		result := tx.Model(&processingdomain.ProcessingJob{}).
			Where("id = ? AND status IN ?", jobID, sources).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if job.Status == status {
				return nil
			}
			if job.Status.Terminal() {
				return processingdomain.ErrJobTerminal
			}
			return processingdomain.ErrInvalidStatus
		}

		projectStatus := projectdomain.ProjectStatusDraft
		switch status {
		case processingdomain.JobStatusCompleted:
			projectStatus = projectdomain.ProjectStatusCompleted
		case processingdomain.JobStatusFailed:
			projectStatus = projectdomain.ProjectStatusFailed
		}
		if err := tx.Model(&projectdomain.Project{}).
			Where("id = ?", job.ProjectID).
			Updates(map[string]any{
				"status":     projectStatus,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return err
	}

	if applied {
		s.log.Info("job reached terminal state",
			zap.String("job_id", jobID.String()),
			zap.String("status", string(status)),
		)
	}
	if status == processingdomain.JobStatusFailed {
		// Also on redelivery: if the refund was lost after the terminal
		// transition committed, the worker's retries pick it up here. Refund
		// is a no-op once refunded_at is set.
		return s.Refund(ctx, jobID)
	}
	return nil
}

func (s *Service) loadOwnedJob(ctx context.Context, userID, jobID snowflake.ID) (processingdomain.ProcessingJob, projectdomain.Project, error) {
	var job processingdomain.ProcessingJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return job, projectdomain.Project{}, processingdomain.ErrJobNotFound
		}
		return job, projectdomain.Project{}, err
	}

	var project projectdomain.Project
	if err := s.db.WithContext(ctx).First(&project, "id = ?", job.ProjectID).Error; err != nil {
		return job, project, err
	}
	if project.UserID != userID {
		// Existence is not leaked to non-owners.
		return job, project, processingdomain.ErrJobNotFound
	}
	return job, project, nil
}
