package circuitbreaker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamflix/gateway/internal/apierror"
	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/util"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	assert.Nil(t, r.Get("content"))

	cb := r.GetOrCreate("content")
	require.NotNil(t, cb)
	assert.Same(t, cb, r.GetOrCreate("content"))
	assert.Same(t, cb, r.Get("content"))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_GetOrCreateConcurrent(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	var wg sync.WaitGroup
	got := make([]*Breaker, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.GetOrCreate("search")
		}(i)
	}
	wg.Wait()
	for _, cb := range got {
		assert.Same(t, got[0], cb)
	}
	assert.Equal(t, 1, r.Count())
}

func TestRegistryFromConfig_Overrides(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig().CircuitBreaker
	cfg.Instances = map[string]config.BreakerSettings{
		"playback": {MinimumNumberOfCalls: 2, WaitDurationInOpenState: config.Duration(time.Second)},
	}
	r := NewRegistryFromConfig(cfg)

	playback := r.GetOrCreate("playback")
	assert.Equal(t, 2, playback.config.MinimumNumberOfCalls)
	assert.Equal(t, time.Second, playback.config.WaitDurationInOpenState)
	assert.Equal(t, float64(50), playback.config.FailureRateThreshold)

	content := r.GetOrCreate("content")
	assert.Equal(t, 5, content.config.MinimumNumberOfCalls)
	assert.Equal(t, 30*time.Second, content.config.WaitDurationInOpenState)
}

func TestRegistry_UpdateConfigAppliesToNewBreakers(t *testing.T) {
	t.Parallel()

	r := NewRegistryFromConfig(config.DefaultConfig().CircuitBreaker)
	before := r.GetOrCreate("content")

	cfg := config.DefaultConfig().CircuitBreaker
	cfg.Defaults.SlidingWindowSize = 20
	r.UpdateConfig(cfg)

	assert.Same(t, before, r.GetOrCreate("content"))
	assert.Equal(t, 10, before.config.SlidingWindowSize)
	assert.Equal(t, 20, r.GetOrCreate("search").config.SlidingWindowSize)
}

func TestRegistry_SnapshotAndOpenCount(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MinimumNumberOfCalls = 2
	r := NewRegistry(cfg)

	search := r.GetOrCreate("search")
	content := r.GetOrCreate("content")
	_ = call(search, nil)
	_ = call(content, errBackend)
	_ = call(content, errBackend)

	assert.Equal(t, 1, r.OpenCount())

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "content", snap[0].Name)
	assert.Equal(t, "OPEN", snap[0].State)
	assert.Equal(t, float64(100), snap[0].FailureRate)
	assert.Equal(t, 2, snap[0].FailedCalls)
	assert.Equal(t, "search", snap[1].Name)
	assert.Equal(t, "CLOSED", snap[1].State)
	assert.Equal(t, float64(-1), snap[1].FailureRate)
	assert.Equal(t, 1, snap[1].SuccessfulCalls)

	raw, err := json.Marshal(snap[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"failureRate":100`)
	assert.Contains(t, string(raw), `"bufferedCalls":2`)

	r.ResetAll()
	assert.Equal(t, 0, r.OpenCount())
}

func TestRegistry_SharedListener(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MinimumNumberOfCalls = 1
	var mu sync.Mutex
	opened := map[string]bool{}
	r := NewRegistry(cfg, WithRegistryStateChangeListener(func(name string, _, to State) {
		mu.Lock()
		opened[name] = to == StateOpen
		mu.Unlock()
	}))

	_ = call(r.GetOrCreate("auth"), errBackend)
	_ = call(r.GetOrCreate("search"), nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]bool{"auth": true}, opened)
}

func TestFallbackFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		service  string
		wantCode string
		wantMsg  string
	}{
		{"auth", "AUTH_SERVICE_UNAVAILABLE", "Authentication service is temporarily unavailable. Please try again shortly."},
		{"content", "CONTENT_SERVICE_UNAVAILABLE", "Content catalog is temporarily unavailable. Please try again shortly."},
		{"Playback", "PLAYBACK_SERVICE_UNAVAILABLE", "Playback service is temporarily unavailable. Please try again shortly."},
		{"recommendations", "RECOMMENDATIONS_UNAVAILABLE", "Personalized recommendations are temporarily unavailable."},
		{"search", "SEARCH_SERVICE_UNAVAILABLE", "Search is temporarily unavailable. Please try again shortly."},
		{"billing", "SERVICE_UNAVAILABLE", "The service is temporarily unavailable. Please try again in a few moments."},
		{"", "SERVICE_UNAVAILABLE", "The service is temporarily unavailable. Please try again in a few moments."},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			t.Parallel()
			fb := FallbackFor(tt.service)
			assert.Equal(t, tt.wantCode, fb.Code)
			assert.Equal(t, tt.wantMsg, fb.Message)
		})
	}
}

func TestFallback_ErrorAndWrite(t *testing.T) {
	t.Parallel()

	cause := util.NewCircuitOpenError("content", "OPEN")
	apiErr := FallbackFor("content").Error(cause)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.True(t, errors.Is(apiErr, util.ErrCircuitOpen))

	tr := apierror.Translate(apiErr)
	assert.Equal(t, "CONTENT_SERVICE_UNAVAILABLE", tr.Code)

	rec := httptest.NewRecorder()
	require.True(t, FallbackFor("search").Write(rec, "stfx-1-abc"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var env apierror.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SEARCH_SERVICE_UNAVAILABLE", env.Error.Code)
	assert.Equal(t, "stfx-1-abc", env.CorrelationID)
	assert.Equal(t, "stfx-1-abc", env.Error.TraceID)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"failure rate zero", func(c *Config) { c.FailureRateThreshold = 0 }},
		{"failure rate above 100", func(c *Config) { c.FailureRateThreshold = 101 }},
		{"slow rate zero", func(c *Config) { c.SlowCallRateThreshold = 0 }},
		{"slow duration zero", func(c *Config) { c.SlowCallDuration = 0 }},
		{"window zero", func(c *Config) { c.SlidingWindowSize = 0 }},
		{"minimum calls zero", func(c *Config) { c.MinimumNumberOfCalls = 0 }},
		{"wait zero", func(c *Config) { c.WaitDurationInOpenState = 0 }},
		{"trials zero", func(c *Config) { c.PermittedCallsInHalfOpenState = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := DefaultConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestFromSettings_FillsDefaults(t *testing.T) {
	t.Parallel()

	c := FromSettings(config.BreakerSettings{FailureRateThreshold: 25})
	assert.Equal(t, float64(25), c.FailureRateThreshold)
	assert.Equal(t, float64(100), c.SlowCallRateThreshold)
	assert.Equal(t, 60*time.Second, c.SlowCallDuration)
	assert.Equal(t, 3, c.PermittedCallsInHalfOpenState)
	assert.NoError(t, c.Validate())
}

func TestExecute_PassesContext(t *testing.T) {
	t.Parallel()

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	b := NewBreaker("content", nil)
	err := b.Execute(ctx, func(ctx context.Context) error {
		assert.Equal(t, "v", ctx.Value(key{}))
		return nil
	})
	assert.NoError(t, err)
}
