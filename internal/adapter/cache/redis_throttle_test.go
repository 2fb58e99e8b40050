package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/proofmarked/stepup-gateway/internal/adapter/cache"
)

func newThrottle(t *testing.T, limit int, window time.Duration) (*cache.RedisThrottle, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisThrottle(client, limit, window), mr
}

func TestThrottleAllowsUpToLimit(t *testing.T) {
	ctx := context.Background()
	throttle, _ := newThrottle(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, err := throttle.Allow(ctx, "login:1.2.3.4")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := throttle.Allow(ctx, "login:1.2.3.4")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	throttle, _ := newThrottle(t, 1, time.Minute)

	allowed, err := throttle.Allow(ctx, "login:1.2.3.4")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = throttle.Allow(ctx, "login:1.2.3.4")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = throttle.Allow(ctx, "login:5.6.7.8")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestThrottleWindowExpires(t *testing.T) {
	ctx := context.Background()
	throttle, mr := newThrottle(t, 1, time.Minute)

	_, err := throttle.Allow(ctx, "verify:1.2.3.4")
	require.NoError(t, err)
	allowed, err := throttle.Allow(ctx, "verify:1.2.3.4")
	require.NoError(t, err)
	require.False(t, allowed)

	mr.FastForward(2 * time.Minute)

	allowed, err = throttle.Allow(ctx, "verify:1.2.3.4")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestThrottleBackendDown(t *testing.T) {
	ctx := context.Background()
	throttle, mr := newThrottle(t, 1, time.Minute)
	mr.Close()

	_, err := throttle.Allow(ctx, "login:1.2.3.4")
	require.Error(t, err)
}
