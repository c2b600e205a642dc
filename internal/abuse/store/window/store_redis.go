// Package window provides a Redis-backed sliding window counter shared by
// every warden instance, falling back to a local counter while Redis is
// unhealthy.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"warden/pkg/platform/circuit"
)

const keyPrefix = "warden:window:"

// LocalCounter is the in-process fallback.
type LocalCounter interface {
	Record(ctx context.Context, key string, at time.Time, window time.Duration) (int, error)
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}

// RedisCounter keeps one sorted set per key scored by event time in
// nanoseconds.
type RedisCounter struct {
	client        redis.Cmdable
	fallback      LocalCounter
	breaker       *circuit.Breaker
	logger        *slog.Logger
	retryInterval time.Duration
	lastRetry     atomic.Int64
}

type Option func(*RedisCounter)

func WithLogger(logger *slog.Logger) Option {
	return func(c *RedisCounter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *RedisCounter) {
		if b != nil {
			c.breaker = b
		}
	}
}

// WithRetryInterval sets how often Redis is retried while the circuit is open.
func WithRetryInterval(d time.Duration) Option {
	return func(c *RedisCounter) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// NewRedis builds a RedisCounter.
func NewRedis(client redis.Cmdable, fallback LocalCounter, opts ...Option) (*RedisCounter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if fallback == nil {
		return nil, fmt.Errorf("fallback counter is required")
	}
	c := &RedisCounter{
		client:        client,
		fallback:      fallback,
		breaker:       circuit.New("redis-window"),
		logger:        slog.Default(),
		retryInterval: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Record implements the scorer's counter contract.
func (c *RedisCounter) Record(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	if !c.tryPrimary() {
		return c.fallback.Record(ctx, key, at, window)
	}
	n, err := c.recordRedis(ctx, key, at, window)
	if c.settle(ctx, "record", err) {
		return n, nil
	}
	return c.fallback.Record(ctx, key, at, window)
}

// Count implements the scorer's counter contract.
func (c *RedisCounter) Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	if !c.tryPrimary() {
		return c.fallback.Count(ctx, key, now, window)
	}
	cutoff := now.Add(-window).UnixNano()
	n, err := c.client.ZCount(ctx, keyPrefix+key, "("+strconv.FormatInt(cutoff, 10), "+inf").Result()
	if c.settle(ctx, "count", err) {
		return int(n), nil
	}
	return c.fallback.Count(ctx, key, now, window)
}

// Reset clears both Redis and the local fallback so a trigger never
// double-fires after a failover.
func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	_ = c.fallback.Reset(ctx, key)
	if !c.tryPrimary() {
		return nil
	}
	err := c.client.Del(ctx, keyPrefix+key).Err()
	c.settle(ctx, "reset", err)
	return nil
}

func (c *RedisCounter) recordRedis(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	redisKey := keyPrefix + key
	cutoff := at.Add(-window).UnixNano()

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: strconv.FormatInt(at.UnixNano(), 36) + ":" + uuid.NewString(),
	})
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

// tryPrimary reports whether Redis should be attempted: always while the
// circuit is closed, at most once per retry interval while open.
func (c *RedisCounter) tryPrimary() bool {
	if !c.breaker.IsOpen() {
		return true
	}
	now := time.Now().UnixNano()
	last := c.lastRetry.Load()
	if now-last < c.retryInterval.Nanoseconds() {
		return false
	}
	return c.lastRetry.CompareAndSwap(last, now)
}

// settle feeds the outcome to the breaker and reports whether the Redis
// result may be used.
func (c *RedisCounter) settle(ctx context.Context, op string, err error) bool {
	if err != nil {
		c.breaker.RecordFailure()
		c.logger.WarnContext(ctx, "redis window counter failed, using local fallback",
			"op", op,
			"error", err,
			"circuit", c.breaker.IsOpen(),
		)
		return false
	}
	return c.breaker.RecordSuccess()
}
