package pipeline

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/streamflix/gateway/internal/circuitbreaker"
	"github.com/streamflix/gateway/internal/ratelimit"
	"github.com/streamflix/gateway/internal/util"
)

// Call is a guarded backend call. A non-nil response may come with a
// non-nil error when the backend answered with a server error.
type Call func(ctx context.Context) (*http.Response, error)

// RateLimitRule is the bucket a call draws from.
type RateLimitRule struct {
	Key   string
	Class string
	Limit ratelimit.Limit
}

// WithRateLimit admits call against rule. A rejection is returned as a
// *util.RateLimitError without calling through. Admitted responses carry
// the X-RateLimit-* headers.
func WithRateLimit(limiter ratelimit.Limiter, rule RateLimitRule, metrics *ratelimit.Metrics, call Call) Call {
	if limiter == nil {
		return call
	}
	return func(ctx context.Context) (*http.Response, error) {
		res, err := limiter.Allow(ctx, rule.Key, rule.Limit)
		if err != nil {
			return nil, err
		}
		metrics.RecordDecision(rule.Class, res)
		if !res.Allowed {
			return nil, util.NewRateLimitError(rule.Key, res.Limit, res.Remaining, res.RetryAfter)
		}

		resp, err := call(ctx)
		if resp != nil && res.Remaining >= 0 {
			resp.Header.Set(util.HeaderRateLimitLimit, strconv.Itoa(res.Limit))
			resp.Header.Set(util.HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
		}
		return resp, err
	}
}

// WithCircuitBreaker runs call through the named breaker of registry. When
// the breaker refuses the call and fallback is set, the fallback error is
// returned in place of the refusal.
func WithCircuitBreaker(registry *circuitbreaker.Registry, name string, fallback *circuitbreaker.Fallback, call Call) Call {
	if registry == nil {
		return call
	}
	return func(ctx context.Context) (*http.Response, error) {
		done, err := registry.GetOrCreate(name).Acquire(ctx)
		if err != nil {
			if fallback != nil {
				return nil, fallback.Error(err)
			}
			return nil, err
		}

		start := time.Now()
		resp, err := call(ctx)
		done(err, time.Since(start))
		return resp, err
	}
}
