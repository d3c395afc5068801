// Package ratelimit caps how often an action may run across every process
// sharing one Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect dials Redis and checks it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return rdb, nil
}

// Limiter allows up to limit calls per key in each fixed window.
type Limiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
	now    func() time.Time
}

func New(rdb redis.Cmdable, limit int, window time.Duration) *Limiter {
	return &Limiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow counts a call against key. When the window is used up it reports how
// long until the next one opens.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	start := now.Truncate(l.window)
	redisKey := bucketKey(key, start)

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	// Keep the key a little past the window so late readers still see it
	pipe.Expire(ctx, redisKey, l.window+(10*time.Second))

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("redis pipeline error: %w", err)
	}

	if incr.Val() > int64(l.limit) {
		return false, start.Add(l.window).Sub(now), nil
	}

	return true, 0, nil
}

func bucketKey(key string, start time.Time) string {
	return fmt.Sprintf("rate_limit:%s:%s", key, start.UTC().Format(time.RFC3339))
}
