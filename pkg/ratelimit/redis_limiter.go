package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

// RedisLimiter is a fixed window counter shared by every instance that
// points at the same Redis. It implements mfa.Limiter.
type RedisLimiter struct {
	client  redis.Cmdable
	prefix  string
	limit   int64
	window  time.Duration
	timeout time.Duration
}

func NewRedisLimiter(client redis.Cmdable, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "mfa:rl:"
	}
	return &RedisLimiter{
		client:  client,
		prefix:  prefix,
		limit:   int64(limit),
		window:  window,
		timeout: time.Second,
	}
}

// Allow counts one attempt for key. Redis errors fail open so a cache
// outage does not lock every user out.
func (l *RedisLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	k := l.prefix + key
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.PExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		slog.Error("Rate limiter unavailable", "key", key, "err", err)
		return true
	}
	return incr.Val() <= l.limit
}

var _ mfa.Limiter = (*RedisLimiter)(nil)
