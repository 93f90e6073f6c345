// Package ratelimit admits or rejects requests against token buckets shared
// by every gateway instance through Redis, degrading to per-instance
// buckets while Redis is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Limit is the bucket shape of a rate-limit class.
type Limit struct {
	// ReplenishRate is tokens added per second.
	ReplenishRate int
	// BurstCapacity is the bucket size.
	BurstCapacity int
	// RequestedTokens is the cost of one request. Zero means 1.
	RequestedTokens int
}

// Cost returns the tokens one request consumes.
func (l Limit) Cost() int {
	if l.RequestedTokens <= 0 {
		return 1
	}
	return l.RequestedTokens
}

// Validate checks l.
func (l Limit) Validate() error {
	if l.ReplenishRate <= 0 {
		return fmt.Errorf("replenish rate must be positive, got %d", l.ReplenishRate)
	}
	if l.BurstCapacity < l.ReplenishRate {
		return fmt.Errorf("burst capacity %d must be at least replenish rate %d", l.BurstCapacity, l.ReplenishRate)
	}
	if l.Cost() > l.BurstCapacity {
		return fmt.Errorf("requested tokens %d exceed burst capacity %d", l.Cost(), l.BurstCapacity)
	}
	return nil
}

// Result is one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is set on rejection.
	RetryAfter time.Duration
	// Source names what made the decision: SourceStore, SourceLocal or
	// SourceFailOpen.
	Source string
}

// Decision sources.
const (
	SourceStore    = "redis"
	SourceLocal    = "local"
	SourceFailOpen = "fail_open"
)

// Degraded reports whether the decision was made without the shared store.
func (r Result) Degraded() bool {
	return r.Source != SourceStore
}

// Limiter decides admission for key under limit.
type Limiter interface {
	Allow(ctx context.Context, key string, limit Limit) (Result, error)
}

// Classes resolves named limits, falling back to a default class.
type Classes struct {
	limits       map[string]Limit
	defaultClass string
}

// NewClasses validates limits and returns a Classes. defaultClass must name
// one of them.
func NewClasses(limits map[string]Limit, defaultClass string) (*Classes, error) {
	if _, ok := limits[defaultClass]; !ok {
		return nil, fmt.Errorf("default rate limit class %q is not defined", defaultClass)
	}
	c := &Classes{limits: make(map[string]Limit, len(limits)), defaultClass: defaultClass}
	for name, l := range limits {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("rate limit class %q: %w", name, err)
		}
		c.limits[name] = l
	}
	return c, nil
}

// Lookup returns the named class, or the default class when name is empty
// or unknown. The returned name is the class actually used.
func (c *Classes) Lookup(name string) (string, Limit) {
	if l, ok := c.limits[name]; ok {
		return name, l
	}
	return c.defaultClass, c.limits[c.defaultClass]
}
