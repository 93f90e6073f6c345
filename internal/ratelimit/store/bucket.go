package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills, tests and deducts in one round trip.
//
//	KEYS[1] bucket hash (fields tokens, last_update)
//	ARGV    rate per second, burst, now in ms, requested
//
// Returns {allowed, floor(tokens), retry_ms}; retry_ms is 0 when allowed.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(data[1])
local last_update = tonumber(data[2])
if tokens == nil or last_update == nil then
  tokens = burst
  last_update = now
end

-- a caller with a lagging clock must not rewind last_update
local ts = math.max(now, last_update)
local elapsed = (ts - last_update) / 1000.0
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
local retry_ms = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  retry_ms = math.ceil((requested - tokens) * 1000 / rate)
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_update', tostring(ts))
redis.call('EXPIRE', key, math.ceil(burst / rate) * 2)

return {allowed, math.floor(tokens), retry_ms}
`)

// BucketResult is the outcome of one Take.
type BucketResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// TokenBucket runs the token bucket script against Redis.
type TokenBucket struct {
	client redis.Scripter
	prefix string
}

// NewTokenBucket creates a TokenBucket storing hashes under prefix.
func NewTokenBucket(client redis.Scripter, prefix string) *TokenBucket {
	return &TokenBucket{client: client, prefix: prefix}
}

// Key returns the Redis key used for a bucket.
func (b *TokenBucket) Key(key string) string {
	return b.prefix + key
}

// Take tries to remove requested tokens from the bucket at time now.
func (b *TokenBucket) Take(ctx context.Context, key string, rate, burst, requested int, now time.Time) (BucketResult, error) {
	if rate <= 0 || burst <= 0 {
		return BucketResult{}, fmt.Errorf("token bucket %s: rate and burst must be positive", key)
	}
	raw, err := tokenBucketScript.Run(ctx, b.client,
		[]string{b.Key(key)},
		rate, burst, now.UnixMilli(), requested,
	).Result()
	if err != nil {
		return BucketResult{}, fmt.Errorf("token bucket script: %w", err)
	}
	return parseResult(raw)
}

func parseResult(raw interface{}) (BucketResult, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return BucketResult{}, fmt.Errorf("unexpected token bucket reply %v", raw)
	}
	nums := make([]int64, 3)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return BucketResult{}, fmt.Errorf("unexpected token bucket reply element %v", v)
		}
		nums[i] = n
	}
	remaining := int(nums[1])
	if remaining < 0 {
		remaining = 0
	}
	return BucketResult{
		Allowed:    nums[0] == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(nums[2]) * time.Millisecond,
	}, nil
}
