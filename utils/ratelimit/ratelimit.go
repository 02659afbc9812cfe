package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter defines the interface for rate limiting operations
type Limiter interface {
	// Allow consumes one attempt for key and reports whether it is within the limit.
	Allow(ctx context.Context, key string) (bool, error)

	// Remaining returns the number of attempts left in the current window.
	Remaining(ctx context.Context, key string) (int, error)

	// Reset clears the current window for key.
	Reset(ctx context.Context, key string) error
}

// WindowLimiter is a fixed-window counter kept in Redis, so every API node
// shares the same budget. It guards invite-code joins against enumeration of
// the short code space.
type WindowLimiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	prefix      string
	limit       int
	window      time.Duration
	failOpen    bool // allow requests when Redis is unavailable
	now         func() time.Time
}

// NewWindowLimiter creates a fixed-window limiter.
//
// Parameters:
//   - redisClient: Redis client for storing counters
//   - logger: Logger for recording rejected and failed checks
//   - prefix: Namespace for the keys, e.g. "join"
//   - limit: Attempts allowed per window
//   - window: Window length
//   - failOpen: If true, requests pass when Redis fails
//
// Returns:
//   - *WindowLimiter: The initialized rate limiter
func NewWindowLimiter(redisClient *redis.Client, logger *zap.Logger, prefix string, limit int, window time.Duration, failOpen bool) *WindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowLimiter{
		redisClient: redisClient,
		logger:      logger,
		prefix:      prefix,
		limit:       limit,
		window:      window,
		failOpen:    failOpen,
		now:         time.Now,
	}
}

// Allow increments the counter of the current window and compares it with the limit.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucketKey := l.bucketKey(key)

	pipe := l.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, bucketKey)
	pipe.Expire(ctx, bucketKey, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request (fail-open)",
				zap.String("key", bucketKey),
				zap.Error(err),
			)
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	if count > int64(l.limit) {
		l.logger.Warn("rate limit exceeded",
			zap.String("key", bucketKey),
			zap.Int64("count", count),
			zap.Int("limit", l.limit),
		)
		return false, nil
	}
	return true, nil
}

// Remaining returns the attempts left in the current window (never negative).
func (l *WindowLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := l.redisClient.Get(ctx, l.bucketKey(key)).Int()
	if err == redis.Nil {
		return l.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get remaining attempts: %w", err)
	}
	return max(l.limit-count, 0), nil
}

// Reset clears the current window for key.
func (l *WindowLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redisClient.Del(ctx, l.bucketKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	return nil
}

// bucketKey 按窗口起始时间分桶
func (l *WindowLimiter) bucketKey(key string) string {
	bucket := l.now().UnixNano() / int64(l.window)
	return fmt.Sprintf("ratelimit:%s:%s:%d", l.prefix, key, bucket)
}
