// Package domain contains persistence models for projects and their videos.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ProjectStatus tracks a project's processing lifecycle.
type ProjectStatus string

const (
	ProjectStatusDraft      ProjectStatus = "DRAFT"
	ProjectStatusProcessing ProjectStatus = "PROCESSING"
	ProjectStatusCompleted  ProjectStatus = "COMPLETED"
	ProjectStatusFailed     ProjectStatus = "FAILED"
)

// Project groups the source videos of one mixing workspace. While status is
// PROCESSING exactly one non-terminal job exists for it.
type Project struct {
	ID        snowflake.ID  `gorm:"primaryKey"`
	UserID    snowflake.ID  `gorm:"not null;index"`
	Name      string        `gorm:"type:text;not null"`
	Status    ProjectStatus `gorm:"type:text;not null;default:'DRAFT'"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

// VideoFile is a source video. Immutable once referenced by a job's settings
// snapshot.
type VideoFile struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	ProjectID snowflake.ID `gorm:"not null;index"`
	Filename  string       `gorm:"type:text;not null"`
	Path      string       `gorm:"type:text;not null"`
	Size      int64        `gorm:"not null"`
	Duration  float64      `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (VideoFile) TableName() string { return "video_files" }
