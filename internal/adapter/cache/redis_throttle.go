// Package cache holds Redis-backed adapters.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle limits repeated attempts against a key within a fixed window.
type Throttle interface {
	// Allow reports whether another attempt is permitted for the key.
	Allow(ctx context.Context, key string) (bool, error)
}

// NopThrottle permits everything. Used when Redis is not configured.
type NopThrottle struct{}

// Allow implements Throttle.
func (NopThrottle) Allow(context.Context, string) (bool, error) { return true, nil }

const attemptPrefix = "auth:attempts:"

// RedisThrottle is a fixed-window attempt counter shared across instances.
type RedisThrottle struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
}

var _ Throttle = (*RedisThrottle)(nil)

// NewRedisThrottle constructs a throttle allowing limit attempts per window.
func NewRedisThrottle(client redis.UniversalClient, limit int, window time.Duration) *RedisThrottle {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisThrottle{client: client, limit: int64(limit), window: window}
}

// Allow increments the window counter and compares it against the limit. The
// expiry is set when the counter is first created so the window is anchored
// at the first attempt.
func (t *RedisThrottle) Allow(ctx context.Context, key string) (bool, error) {
	fullKey := attemptPrefix + key
	count, err := t.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, fmt.Errorf("count attempt: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, fullKey, t.window).Err(); err != nil {
			return false, fmt.Errorf("anchor window: %w", err)
		}
	}
	return count <= t.limit, nil
}
