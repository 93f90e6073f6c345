// Package circuitbreaker guards calls to backend services with per-backend
// breakers driven by a count-based sliding window of call outcomes.
//
// A breaker starts CLOSED. Once MinimumNumberOfCalls outcomes are buffered,
// a failure rate or slow-call rate at or above its threshold opens it. An
// OPEN breaker refuses calls until WaitDurationInOpenState has elapsed, then
// admits exactly PermittedCallsInHalfOpenState trial calls. When all trials
// have reported, the breaker closes if both rates are below their thresholds
// and opens again otherwise.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/util"
)

// Config holds the thresholds of one breaker.
type Config struct {
	// FailureRateThreshold is a percentage in (0, 100].
	FailureRateThreshold float64

	// SlowCallRateThreshold is a percentage in (0, 100].
	SlowCallRateThreshold float64

	// SlowCallDuration is the duration at or above which a call is slow.
	SlowCallDuration time.Duration

	// SlidingWindowSize is the number of outcomes kept while CLOSED.
	SlidingWindowSize int

	// MinimumNumberOfCalls is the number of outcomes needed before the
	// rates are evaluated. Values above SlidingWindowSize act as the window
	// size.
	MinimumNumberOfCalls int

	// WaitDurationInOpenState is how long an OPEN breaker refuses calls.
	WaitDurationInOpenState time.Duration

	// PermittedCallsInHalfOpenState is the number of trial calls.
	PermittedCallsInHalfOpenState int

	// IsFailure classifies a call error. Nil uses DefaultIsFailure.
	IsFailure func(err error) bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureRateThreshold:          50,
		SlowCallRateThreshold:         100,
		SlowCallDuration:              60 * time.Second,
		SlidingWindowSize:             10,
		MinimumNumberOfCalls:          5,
		WaitDurationInOpenState:       30 * time.Second,
		PermittedCallsInHalfOpenState: 3,
	}
}

// FromSettings converts configuration file settings into a Config. Zero
// fields take the defaults.
func FromSettings(s config.BreakerSettings) *Config {
	c := &Config{
		FailureRateThreshold:          s.FailureRateThreshold,
		SlowCallRateThreshold:         s.SlowCallRateThreshold,
		SlowCallDuration:              s.SlowCallDuration.Duration(),
		SlidingWindowSize:             s.SlidingWindowSize,
		MinimumNumberOfCalls:          s.MinimumNumberOfCalls,
		WaitDurationInOpenState:       s.WaitDurationInOpenState.Duration(),
		PermittedCallsInHalfOpenState: s.PermittedCallsInHalfOpenState,
	}
	c.applyDefaults()
	return c
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 100 {
		return fmt.Errorf("failure rate threshold must be in (0, 100], got %v", c.FailureRateThreshold)
	}
	if c.SlowCallRateThreshold <= 0 || c.SlowCallRateThreshold > 100 {
		return fmt.Errorf("slow call rate threshold must be in (0, 100], got %v", c.SlowCallRateThreshold)
	}
	if c.SlowCallDuration <= 0 {
		return errors.New("slow call duration must be positive")
	}
	if c.SlidingWindowSize < 1 {
		return fmt.Errorf("sliding window size must be at least 1, got %d", c.SlidingWindowSize)
	}
	if c.MinimumNumberOfCalls < 1 {
		return fmt.Errorf("minimum number of calls must be at least 1, got %d", c.MinimumNumberOfCalls)
	}
	if c.WaitDurationInOpenState <= 0 {
		return errors.New("wait duration in open state must be positive")
	}
	if c.PermittedCallsInHalfOpenState < 1 {
		return fmt.Errorf("permitted calls in half-open state must be at least 1, got %d", c.PermittedCallsInHalfOpenState)
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = d.FailureRateThreshold
	}
	if c.SlowCallRateThreshold <= 0 {
		c.SlowCallRateThreshold = d.SlowCallRateThreshold
	}
	if c.SlowCallDuration <= 0 {
		c.SlowCallDuration = d.SlowCallDuration
	}
	if c.SlidingWindowSize < 1 {
		c.SlidingWindowSize = d.SlidingWindowSize
	}
	if c.MinimumNumberOfCalls < 1 {
		c.MinimumNumberOfCalls = d.MinimumNumberOfCalls
	}
	if c.WaitDurationInOpenState <= 0 {
		c.WaitDurationInOpenState = d.WaitDurationInOpenState
	}
	if c.PermittedCallsInHalfOpenState < 1 {
		c.PermittedCallsInHalfOpenState = d.PermittedCallsInHalfOpenState
	}
}

func (c *Config) minimumCalls() int {
	return min(c.MinimumNumberOfCalls, c.SlidingWindowSize)
}

func (c *Config) isFailure(err error) bool {
	if c.IsFailure != nil {
		return c.IsFailure(err)
	}
	return DefaultIsFailure(err)
}

// DefaultIsFailure counts every error as a failure. Backend 4xx responses
// reach the breaker as nil errors and so count as successes.
func DefaultIsFailure(err error) bool {
	return err != nil
}

// isIgnored reports errors that say nothing about backend health: the
// caller went away, or the call was refused before reaching the backend.
func isIgnored(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, util.ErrRateLimited)
}
