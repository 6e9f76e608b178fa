package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/mixforge/mixforge/internal/pricing"
	"github.com/mixforge/mixforge/internal/settings"
)

type EstimateRequest struct {
	UserID snowflake.ID
	// VideoCount is optional; when > 0 the response includes the advisory
	// variant bound.
	VideoCount  int
	RawSettings map[string]any
}

type EstimateResponse struct {
	CreditsRequired     int64                   `json:"creditsRequired"`
	UserCredits         int64                   `json:"userCredits"`
	HasEnoughCredits    bool                    `json:"hasEnoughCredits"`
	Breakdown           []pricing.BreakdownLine `json:"breakdown"`
	Strength            string                  `json:"antiFingerprintStrength"`
	TheoreticalVariants *int64                  `json:"theoreticalVariants,omitempty"`
}

type StartRequest struct {
	UserID      snowflake.ID
	ProjectID   snowflake.ID
	RawSettings map[string]any
}

type StartResponse struct {
	JobID             snowflake.ID `json:"jobId"`
	CreditsDeducted   int64        `json:"creditsDeducted"`
	EstimatedDuration int          `json:"estimatedDurationSeconds"`
}

// JobView is the polling read model: the job, its parsed settings snapshot
// and the current output list.
type JobView struct {
	Job      ProcessingJob     `json:"job"`
	Settings settings.Settings `json:"settings"`
	Outputs  []OutputFile      `json:"outputFiles"`
}

type Service interface {
	// Estimate prices a request without side effects.
	Estimate(ctx context.Context, req EstimateRequest) (EstimateResponse, error)
	// Start atomically debits credits, records the usage transaction, flips
	// the project to PROCESSING and creates the PENDING job.
	Start(ctx context.Context, req StartRequest) (StartResponse, error)
	// GetJob returns the job view for polling clients.
	GetJob(ctx context.Context, userID, jobID snowflake.ID) (JobView, error)
	// Cancel signals the worker to stop; the terminal state is confirmed
	// later through ReportTerminal.
	Cancel(ctx context.Context, userID, jobID snowflake.ID) error

	// Worker callbacks.
	ReportProgress(ctx context.Context, jobID snowflake.ID, percent int) error
	AddOutputFile(ctx context.Context, jobID snowflake.ID, filename, path string, size int64) (*OutputFile, error)
	ReportTerminal(ctx context.Context, jobID snowflake.ID, status JobStatus, errorMessage string) error
	// Refund applies the one-time refund for a FAILED job; reinvocation is a
	// no-op.
	Refund(ctx context.Context, jobID snowflake.ID) error
}

var (
	ErrProjectNotFound = errors.New("project_not_found")
	ErrJobNotFound     = errors.New("job_not_found")
	ErrProjectBusy     = errors.New("project_already_processing")
	ErrNotEnoughVideos = errors.New("not_enough_videos")
	ErrJobTerminal     = errors.New("job_terminal")
	ErrInvalidProgress = errors.New("invalid_progress")
	ErrInvalidStatus   = errors.New("invalid_status")
	ErrOutputsClosed   = errors.New("outputs_closed")
)

// InsufficientCreditsError carries the shortfall for client upsell UX.
type InsufficientCreditsError struct {
	Required  int64 `json:"required"`
	Available int64 `json:"available"`
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}
