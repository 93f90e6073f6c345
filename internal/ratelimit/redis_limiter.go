package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/ratelimit/store"
)

// Defaults for the breaker guarding the shared store.
const (
	DefaultKeyPrefix           = "ratelimit:"
	DefaultStoreBreakerTimeout = 5 * time.Second
	DefaultStoreBreakerTrips   = 5
)

// RedisLimiterConfig configures a RedisLimiter.
type RedisLimiterConfig struct {
	KeyPrefix string
	// CommandTimeout bounds each script call.
	CommandTimeout time.Duration

	// FallbackEnabled selects the local limiter when the store fails.
	// Otherwise requests are admitted unchecked until it recovers.
	FallbackEnabled bool
	FallbackMaxKeys int
	FallbackTTL     time.Duration

	// StoreBreakerTimeout is how long the store is bypassed after it trips.
	StoreBreakerTimeout time.Duration
	// StoreBreakerTrips is the consecutive failures that trip it.
	StoreBreakerTrips int
}

// RedisLimiter is the distributed Limiter. Every instance shares the same
// buckets, so the budget holds across the fleet.
type RedisLimiter struct {
	bucket  *store.TokenBucket
	breaker *gobreaker.CircuitBreaker
	local   *LocalLimiter
	timeout time.Duration
	now     func() time.Time
	logger  observability.Logger
	metrics *Metrics
}

// RedisLimiterOption configures a RedisLimiter.
type RedisLimiterOption func(*RedisLimiter)

// WithClock replaces time.Now. The time is sent to the script, which never
// moves a bucket's clock backwards.
func WithClock(now func() time.Time) RedisLimiterOption {
	return func(l *RedisLimiter) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) RedisLimiterOption {
	return func(l *RedisLimiter) { l.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) RedisLimiterOption {
	return func(l *RedisLimiter) { l.metrics = m }
}

// NewRedisLimiter creates a limiter on client.
func NewRedisLimiter(client redis.Scripter, cfg RedisLimiterConfig, opts ...RedisLimiterOption) *RedisLimiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = store.DefaultConfig().ReadTimeout
	}
	if cfg.StoreBreakerTimeout <= 0 {
		cfg.StoreBreakerTimeout = DefaultStoreBreakerTimeout
	}
	if cfg.StoreBreakerTrips <= 0 {
		cfg.StoreBreakerTrips = DefaultStoreBreakerTrips
	}

	l := &RedisLimiter{
		bucket:  store.NewTokenBucket(client, cfg.KeyPrefix),
		timeout: cfg.CommandTimeout,
		now:     time.Now,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if cfg.FallbackEnabled {
		l.local = NewLocalLimiter(cfg.FallbackMaxKeys, cfg.FallbackTTL, l.now)
	}

	trips := uint32(cfg.StoreBreakerTrips) //nolint:gosec // positive, checked above
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-store",
		MaxRequests: 1,
		Timeout:     cfg.StoreBreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= trips
		},
		IsSuccessful: storeCallSucceeded,
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Warn("rate limit store breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			l.metrics.setBreakerState(breakerStateValue(to))
		},
	})
	return l
}

// Allow implements Limiter. Store failures never reject a request: the
// decision moves to the local limiter, or is admitted when none is set.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit Limit) (Result, error) {
	now := l.now()
	out, err := l.breaker.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		return l.bucket.Take(cctx, key, limit.ReplenishRate, limit.BurstCapacity, limit.Cost(), now)
	})
	if err == nil {
		br := out.(store.BucketResult)
		return Result{
			Allowed:    br.Allowed,
			Limit:      limit.BurstCapacity,
			Remaining:  br.Remaining,
			RetryAfter: br.RetryAfter,
			Source:     SourceStore,
		}, nil
	}

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	l.metrics.recordStoreError()

	if l.local != nil {
		l.logger.Warn("rate limit store unavailable, using local limiter",
			observability.String("key", key),
			observability.Error(err),
		)
		return l.local.Allow(ctx, key, limit)
	}

	l.logger.Warn("rate limit store unavailable, admitting request",
		observability.String("key", key),
		observability.Error(err),
	)
	return Result{Allowed: true, Limit: limit.BurstCapacity, Remaining: -1, Source: SourceFailOpen}, nil
}

// storeCallSucceeded keeps caller cancellations out of the store breaker.
func storeCallSucceeded(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// StoreState returns the store breaker state.
func (l *RedisLimiter) StoreState() gobreaker.State {
	return l.breaker.State()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
