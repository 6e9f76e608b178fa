package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/mixforge/mixforge/internal/config"
)

const keyDownloadUser = "download:user:%s"

// DownloadLimiter throttles archive downloads per user. A nil limiter allows
// everything, so the server works without redis.
type DownloadLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewDownloadLimiter(cfg config.Config) *DownloadLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || limitCfg.DownloadRate <= 0 || limitCfg.DownloadBurst <= 0 {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.RedisAddr),
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &DownloadLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.DownloadRate,
		burst:   limitCfg.DownloadBurst,
	}
}

func (l *DownloadLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *DownloadLimiter) Allow(ctx context.Context, userID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyDownloadUser, strings.TrimSpace(userID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
