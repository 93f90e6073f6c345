// Package store connects to the shared Redis instance and runs the atomic
// token bucket script used for distributed rate limiting.
package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamflix/gateway/internal/observability"
)

// Config configures the Redis client.
type Config struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ConnectionRetries is how many extra pings Connect makes before
	// giving up.
	ConnectionRetries int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// DefaultConfig returns a local Redis configuration with 2s timeouts.
func DefaultConfig() Config {
	return Config{
		Address:           "localhost:6379",
		PoolSize:          50,
		MinIdleConns:      5,
		DialTimeout:       2 * time.Second,
		ReadTimeout:       2 * time.Second,
		WriteTimeout:      2 * time.Second,
		ConnectionRetries: 3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
	}
}

// NewClient builds a client without contacting the server.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		// Admission decisions must not stall on retries.
		MaxRetries: 0,
	})
}

// Connect builds a client and pings it with decorrelated jitter backoff
// until it answers, ctx ends or the retries run out. The client is returned
// even on failure so callers may start degraded and let the store breaker
// recover later.
func Connect(ctx context.Context, cfg Config, logger observability.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	client := NewClient(cfg)
	backoff := newJitterBackoff(cfg.InitialBackoff, cfg.MaxBackoff)

	var lastErr error
	for attempt := 0; attempt <= cfg.ConnectionRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			if attempt > 0 {
				logger.Info("redis connection established after retry",
					observability.String("address", cfg.Address),
					observability.Int("attempt", attempt+1),
				)
			}
			return client, nil
		}
		if attempt == cfg.ConnectionRetries {
			break
		}

		wait := backoff.next()
		logger.Debug("redis ping failed, retrying",
			observability.String("address", cfg.Address),
			observability.Int("attempt", attempt+1),
			observability.Duration("backoff", wait),
			observability.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return client, fmt.Errorf("connecting to redis at %s: %w", cfg.Address, ctx.Err())
		case <-time.After(wait):
		}
	}
	return client, fmt.Errorf("connecting to redis at %s after %d attempts: %w",
		cfg.Address, cfg.ConnectionRetries+1, lastErr)
}

// jitterBackoff yields sleep = min(max, rand(initial, prev*3)).
type jitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newJitterBackoff(initial, maxBackoff time.Duration) *jitterBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxBackoff < initial {
		maxBackoff = initial
	}
	return &jitterBackoff{initial: initial, max: maxBackoff}
}

func (b *jitterBackoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
		return b.current
	}
	lo := int64(b.initial)
	hi := int64(b.current) * 3
	d := time.Duration(lo + rand.Int64N(hi-lo+1)) //nolint:gosec // jitter only
	if d > b.max {
		d = b.max
	}
	b.current = d
	return d
}
