package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func fixedClock(limiter *WindowLimiter, at *time.Time) {
	limiter.now = func() time.Time { return *at }
}

func TestWindowLimiter_Allow(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewWindowLimiter(client, zap.NewNop(), "join", 3, time.Minute, false)
	ctx := context.Background()

	for i := range 3 {
		allowed, err := limiter.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d should be allowed", i+1)
	}
	allowed, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, allowed, "keys are independent")
}

func TestWindowLimiter_NewWindow(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewWindowLimiter(client, nil, "join", 1, time.Minute, false)
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fixedClock(limiter, &at)
	ctx := context.Background()

	allowed, _ := limiter.Allow(ctx, "user-1")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow(ctx, "user-1")
	assert.False(t, allowed)

	at = at.Add(time.Minute)
	allowed, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestWindowLimiter_RemainingAndReset(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewWindowLimiter(client, zap.NewNop(), "join", 2, time.Minute, false)
	at := time.Date(2026, 5, 1, 12, 0, 30, 0, time.UTC)
	fixedClock(limiter, &at)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	for range 3 {
		_, _ = limiter.Allow(ctx, "user-1")
	}
	remaining, err = limiter.Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	require.NoError(t, limiter.Reset(ctx, "user-1"))
	remaining, err = limiter.Remaining(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestWindowLimiter_SetsExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	limiter := NewWindowLimiter(client, zap.NewNop(), "join", 5, time.Minute, false)
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fixedClock(limiter, &at)

	_, err := limiter.Allow(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute+time.Second, mr.TTL(limiter.bucketKey("user-1")))
}

func TestWindowLimiter_RedisDown(t *testing.T) {
	t.Run("fail open", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewWindowLimiter(client, zap.NewNop(), "join", 1, time.Minute, true)
		mr.Close()

		allowed, err := limiter.Allow(context.Background(), "user-1")
		assert.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("fail closed", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewWindowLimiter(client, zap.NewNop(), "join", 1, time.Minute, false)
		mr.Close()

		allowed, err := limiter.Allow(context.Background(), "user-1")
		assert.Error(t, err)
		assert.False(t, allowed)
	})
}

func TestWindowLimiter_Concurrent(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewWindowLimiter(client, zap.NewNop(), "join", 10, time.Minute, false)
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fixedClock(limiter, &at)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := limiter.Allow(context.Background(), "user-1"); err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), allowed.Load())
}

var _ Limiter = (*WindowLimiter)(nil)
