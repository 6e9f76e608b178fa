package queue

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// MemoryQueue is the in-process queue used in development and tests. Tasks
// live in a buffered channel; cancel signals in a set.
type MemoryQueue struct {
	tasks chan Task

	mu        sync.Mutex
	cancelled map[snowflake.ID]struct{}
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{
		tasks:     make(chan Task, capacity),
		cancelled: make(map[snowflake.ID]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task := <-q.tasks:
		return task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID snowflake.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled[jobID] = struct{}{}
	return nil
}

func (q *MemoryQueue) Cancelled(_ context.Context, jobID snowflake.ID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.cancelled[jobID]
	return ok, nil
}
