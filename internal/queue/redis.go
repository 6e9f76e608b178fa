package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
)

const (
	redisTaskList       = "mixforge:jobs"
	redisCancelPrefix   = "mixforge:jobs:cancel:"
	redisCancelRetained = 24 * time.Hour
)

// RedisQueue is the broker-backed queue for multi-instance deployments. Tasks
// are LPUSHed as JSON and consumed with blocking pops; cancel signals are
// per-job keys the worker polls between steps.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, redisTaskList, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	// Zero timeout blocks until a task arrives or ctx is cancelled.
	res, err := q.client.BRPop(ctx, 0, redisTaskList).Result()
	if err != nil {
		return Task{}, err
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, jobID snowflake.ID) error {
	return q.client.Set(ctx, redisCancelPrefix+jobID.String(), "1", redisCancelRetained).Err()
}

func (q *RedisQueue) Cancelled(ctx context.Context, jobID snowflake.ID) (bool, error) {
	n, err := q.client.Exists(ctx, redisCancelPrefix+jobID.String()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
