package ratelimit

import (
	"context"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimit_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		limit   Limit
		wantErr string
	}{
		{name: "valid", limit: Limit{ReplenishRate: 100, BurstCapacity: 200, RequestedTokens: 1}},
		{name: "zero cost is one", limit: Limit{ReplenishRate: 5, BurstCapacity: 10}},
		{name: "zero rate", limit: Limit{BurstCapacity: 10}, wantErr: "replenish rate"},
		{name: "burst below rate", limit: Limit{ReplenishRate: 10, BurstCapacity: 5}, wantErr: "burst capacity"},
		{name: "cost above burst", limit: Limit{ReplenishRate: 1, BurstCapacity: 2, RequestedTokens: 3}, wantErr: "requested tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.limit.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClasses_Lookup(t *testing.T) {
	t.Parallel()

	classes, err := NewClasses(map[string]Limit{
		"default": {ReplenishRate: 100, BurstCapacity: 200},
		"auth":    {ReplenishRate: 5, BurstCapacity: 10},
	}, "default")
	require.NoError(t, err)

	name, l := classes.Lookup("auth")
	assert.Equal(t, "auth", name)
	assert.Equal(t, 5, l.ReplenishRate)

	name, l = classes.Lookup("")
	assert.Equal(t, "default", name)
	assert.Equal(t, 200, l.BurstCapacity)

	name, _ = classes.Lookup("unknown")
	assert.Equal(t, "default", name)
}

func TestNewClasses_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewClasses(map[string]Limit{"auth": {ReplenishRate: 5, BurstCapacity: 10}}, "default")
	assert.ErrorContains(t, err, `"default" is not defined`)

	_, err = NewClasses(map[string]Limit{"default": {}}, "default")
	assert.ErrorContains(t, err, `class "default"`)
}

func TestUserOrIPKey(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/api/v1/content", nil)
	r.RemoteAddr = "192.0.2.7:51234"
	assert.Equal(t, "user:u-1", UserOrIPKey.Resolve(r, "u-1"))
	assert.Equal(t, "ip:192.0.2.7", UserOrIPKey.Resolve(r, ""))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "ip:203.0.113.5", UserOrIPKey.Resolve(r, ""))
}

func TestLocalLimiter_Burst(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewLocalLimiter(0, 0, clock.Now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := l.Allow(ctx, "user:1", authClass)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 9-i, res.Remaining)
		assert.Equal(t, SourceLocal, res.Source)
	}
	res, _ := l.Allow(ctx, "user:1", authClass)
	assert.False(t, res.Allowed)
	assert.Equal(t, 200*time.Millisecond, res.RetryAfter)

	clock.Advance(400 * time.Millisecond)
	res, _ = l.Allow(ctx, "user:1", authClass)
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "user:1", authClass)
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "user:1", authClass)
	assert.False(t, res.Allowed)
}

func TestLocalLimiter_Bounded(t *testing.T) {
	t.Parallel()

	l := NewLocalLimiter(100, time.Minute, nil)
	for i := 0; i < 1000; i++ {
		_, err := l.Allow(context.Background(), "ip:"+strconv.Itoa(i), authClass)
		require.NoError(t, err)
	}
	assert.Equal(t, 100, l.Len())
}

func TestLocalLimiter_ClassChangeStartsFresh(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewLocalLimiter(10, time.Minute, clock.Now)
	ctx := context.Background()

	small := Limit{ReplenishRate: 1, BurstCapacity: 1}
	res, _ := l.Allow(ctx, "k", small)
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "k", small)
	assert.False(t, res.Allowed)

	res, _ = l.Allow(ctx, "k", authClass)
	assert.True(t, res.Allowed)
}
