package ratelimit

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Default bounds of the local limiter cache.
const (
	DefaultFallbackMaxKeys = 10000
	DefaultFallbackTTL     = 10 * time.Minute
)

// LocalLimiter is a per-instance token bucket limiter. Buckets live in a
// bounded LRU whose entries expire when idle, so memory stays bounded no
// matter how many distinct keys appear.
type LocalLimiter struct {
	buckets *expirable.LRU[string, *rate.Limiter]
	now     func() time.Time
}

// NewLocalLimiter creates a LocalLimiter holding at most maxKeys buckets.
func NewLocalLimiter(maxKeys int, ttl time.Duration, now func() time.Time) *LocalLimiter {
	if maxKeys <= 0 {
		maxKeys = DefaultFallbackMaxKeys
	}
	if ttl <= 0 {
		ttl = DefaultFallbackTTL
	}
	if now == nil {
		now = time.Now
	}
	return &LocalLimiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](maxKeys, nil, ttl),
		now:     now,
	}
}

// Allow implements Limiter. It never fails.
func (l *LocalLimiter) Allow(_ context.Context, key string, limit Limit) (Result, error) {
	// The shape is part of the cache key so a reloaded class starts fresh.
	cacheKey := key + "|" + strconv.Itoa(limit.ReplenishRate) + "/" + strconv.Itoa(limit.BurstCapacity)
	lim, ok := l.buckets.Get(cacheKey)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(limit.ReplenishRate), limit.BurstCapacity)
		l.buckets.Add(cacheKey, lim)
	}

	now := l.now()
	cost := limit.Cost()
	res := Result{Limit: limit.BurstCapacity, Source: SourceLocal}
	if lim.AllowN(now, cost) {
		res.Allowed = true
		res.Remaining = int(math.Max(0, math.Floor(lim.TokensAt(now))))
		return res, nil
	}

	tokens := lim.TokensAt(now)
	deficit := float64(cost) - tokens
	res.RetryAfter = time.Duration(math.Ceil(deficit*1000/float64(limit.ReplenishRate))) * time.Millisecond
	res.Remaining = int(math.Max(0, math.Floor(tokens)))
	return res, nil
}

// Len returns the number of live buckets.
func (l *LocalLimiter) Len() int {
	return l.buckets.Len()
}
