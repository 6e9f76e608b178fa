// Package domain contains the processing job models and the engine's service
// contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// JobStatus is the bounded job state machine:
//
//	PENDING    -> PROCESSING | CANCELLED
//	PROCESSING -> COMPLETED | FAILED | CANCELLED
//
// COMPLETED, FAILED and CANCELLED are terminal.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// transitionSources lists the statuses a job may move FROM for each target.
var transitionSources = map[JobStatus][]JobStatus{
	JobStatusProcessing: {JobStatusPending},
	JobStatusCompleted:  {JobStatusProcessing},
	JobStatusFailed:     {JobStatusProcessing},
	JobStatusCancelled:  {JobStatusPending, JobStatusProcessing},
}

// TransitionSources returns the allowed source statuses for target, or nil if
// target is not a reachable state.
func TransitionSources(target JobStatus) []JobStatus {
	return transitionSources[target]
}

// ProcessingJob is one admitted mixing run. CreditsUsed and the settings
// snapshot are immutable after creation; RefundedAt is set at most once and
// only on FAILED jobs.
type ProcessingJob struct {
	ID           snowflake.ID   `gorm:"primaryKey" json:"id"`
	ProjectID    snowflake.ID   `gorm:"not null;index" json:"projectId"`
	Status       JobStatus      `gorm:"type:text;not null;default:'PENDING'" json:"status"`
	Progress     int            `gorm:"not null;default:0" json:"progress"`
	CreditsUsed  int64          `gorm:"not null" json:"creditsUsed"`
	OutputCount  int            `gorm:"not null" json:"outputCount"`
	Settings     datatypes.JSON `gorm:"not null" json:"-"`
	ErrorMessage *string        `gorm:"type:text" json:"errorMessage,omitempty"`
	RefundedAt   *time.Time     `json:"refundedAt,omitempty"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (ProcessingJob) TableName() string { return "processing_jobs" }

// OutputFile is a produced variant. Rows are appended while the job runs and
// become read-only once the job is terminal.
type OutputFile struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	JobID    snowflake.ID `gorm:"not null;index" json:"jobId"`
	Filename string       `gorm:"type:text;not null" json:"filename"`
	// Path is the location on the storage volume; it stays server-side.
	Path      string    `gorm:"type:text;not null" json:"-"`
	Size      int64     `gorm:"not null" json:"size"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"createdAt"`
}

// TableName sets the database table name.
func (OutputFile) TableName() string { return "output_files" }
