package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Check is one readiness dependency.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to Check.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheck creates a Check named name.
func NewCheck(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

// Name implements Check.
func (c *CheckFunc) Name() string { return c.name }

// Check implements Check.
func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// RedisCheck pings the shared store.
func RedisCheck(name string, client redis.UniversalClient) *CheckFunc {
	return NewCheck(name, func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}

// CachedCheck remembers the result of a check for ttl so frequent probes do
// not hammer the dependency.
type CachedCheck struct {
	check Check
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	checked time.Time
	err     error
}

// NewCachedCheck wraps check.
func NewCachedCheck(check Check, ttl time.Duration) *CachedCheck {
	return &CachedCheck{check: check, ttl: ttl, now: time.Now}
}

// Name implements Check.
func (c *CachedCheck) Name() string { return c.check.Name() }

// Check implements Check.
func (c *CachedCheck) Check(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.checked.IsZero() && c.now().Sub(c.checked) < c.ttl {
		return c.err
	}
	c.err = c.check.Check(ctx)
	c.checked = c.now()
	return c.err
}
