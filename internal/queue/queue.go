// Package queue hands admitted jobs to the external processing worker. Two
// implementations exist: an in-process channel queue for development and
// tests, and a redis-backed broker queue for multi-instance deployments. The
// rest of the engine only sees the Queue interface.
package queue

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/mixforge/mixforge/internal/settings"
)

// Task is the unit of work handed to the worker.
type Task struct {
	JobID       snowflake.ID      `json:"jobId"`
	ProjectID   snowflake.ID      `json:"projectId"`
	OutputCount int               `json:"outputCount"`
	Settings    settings.Settings `json:"settings"`
}

type Queue interface {
	// Enqueue hands off an admitted job.
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (Task, error)
	// Cancel is a best-effort signal to stop an in-flight job.
	Cancel(ctx context.Context, jobID snowflake.ID) error
	// Cancelled reports whether a cancel signal was issued for the job.
	Cancelled(ctx context.Context, jobID snowflake.ID) (bool, error)
}

var ErrQueueFull = errors.New("queue_full")
