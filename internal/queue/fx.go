package queue

import (
	"context"

	"github.com/mixforge/mixforge/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("queue",
	fx.Provide(NewQueue),
)

// NewQueue selects the queue implementation from configuration so admission
// and tracking code never depend on which broker is active.
func NewQueue(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Queue, error) {
	if cfg.QueueDriver != config.QueueDriverRedis {
		log.Named("queue").Info("using in-memory job queue")
		return NewMemoryQueue(0), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	log.Named("queue").Info("using redis job queue", zap.String("addr", cfg.RedisAddr))
	return NewRedisQueue(client), nil
}
