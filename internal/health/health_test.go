package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamflix/gateway/internal/circuitbreaker"
	"github.com/streamflix/gateway/internal/health"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func serve(t *testing.T, h *health.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	engine := gin.New()
	h.RegisterRoutes(engine)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func openBreaker(t *testing.T, reg *circuitbreaker.Registry, name string) {
	t.Helper()
	b := reg.GetOrCreate(name)
	for i := 0; i < 2; i++ {
		done, err := b.Acquire(context.Background())
		require.NoError(t, err)
		done(errors.New("boom"), time.Millisecond)
	}
	require.Equal(t, circuitbreaker.StateOpen, b.State())
}

func newRegistry() *circuitbreaker.Registry {
	cfg := circuitbreaker.DefaultConfig()
	cfg.SlidingWindowSize = 2
	cfg.MinimumNumberOfCalls = 2
	return circuitbreaker.NewRegistry(cfg)
}

func TestGatewayHealth(t *testing.T) {
	t.Parallel()

	t.Run("up without breakers", func(t *testing.T) {
		t.Parallel()
		h := health.NewHandler(health.WithClock(func() time.Time { return fixedNow }))
		rec := serve(t, h, "/gateway/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var body health.GatewayHealth
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, health.StatusUp, body.Status)
		assert.Zero(t, body.TotalCircuitBreakers)
		assert.True(t, fixedNow.Equal(body.Timestamp))
	})

	t.Run("degraded while a breaker is open", func(t *testing.T) {
		t.Parallel()
		reg := newRegistry()
		reg.GetOrCreate("content")
		openBreaker(t, reg, "search")

		h := health.NewHandler(health.WithBreakers(reg))
		rec := serve(t, h, "/gateway/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var body health.GatewayHealth
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, health.StatusDegraded, body.Status)
		assert.Equal(t, 1, body.OpenCircuitBreakers)
		assert.Equal(t, 2, body.TotalCircuitBreakers)
	})
}

func TestCircuitBreakersEndpoint(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	reg.GetOrCreate("content")
	openBreaker(t, reg, "search")

	rec := serve(t, health.NewHandler(health.WithBreakers(reg)), "/gateway/circuit-breakers")
	require.Equal(t, http.StatusOK, rec.Code)

	var body health.BreakerReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.CircuitBreakers, 2)
	assert.Equal(t, "OPEN", body.CircuitBreakers["search"].State)
	assert.Equal(t, "CLOSED", body.CircuitBreakers["content"].State)
	assert.Equal(t, 2, body.CircuitBreakers["search"].FailedCalls)
}

func TestLiveness(t *testing.T) {
	t.Parallel()

	rec := serve(t, health.NewHandler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, health.StatusUp, body["status"])
	assert.Contains(t, body, "uptime")
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checks     []health.Check
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: health.StatusUp,
		},
		{
			name: "all healthy",
			checks: []health.Check{
				health.NewCheck("a", func(context.Context) error { return nil }),
				health.NewCheck("b", func(context.Context) error { return nil }),
			},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusUp,
		},
		{
			name: "one failing",
			checks: []health.Check{
				health.NewCheck("a", func(context.Context) error { return nil }),
				health.NewCheck("b", func(context.Context) error { return errors.New("down") }),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := health.NewHandler()
			for _, c := range tt.checks {
				h.AddCheck(c)
			}
			rec := serve(t, h, "/ready")
			assert.Equal(t, tt.wantCode, rec.Code)

			var body health.Readiness
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Len(t, body.Checks, len(tt.checks))
		})
	}
}

func TestReadiness_RecordsMetrics(t *testing.T) {
	t.Parallel()

	m := health.NewMetrics("test")
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	h := health.NewHandler(health.WithMetrics(m))
	h.AddCheck(health.NewCheck("redis", func(context.Context) error { return errors.New("down") }))
	h.Ready(context.Background())

	count, err := testutil.GatherAndCount(reg, "test_health_checks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRedisCheck(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	check := health.RedisCheck("redis", client)
	assert.Equal(t, "redis", check.Name())
	require.NoError(t, check.Check(context.Background()))

	mr.Close()
	err := check.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")

	assert.EqualError(t, health.RedisCheck("nil", nil).Check(context.Background()), "redis client is nil")
}

func TestCachedCheck(t *testing.T) {
	t.Parallel()

	calls := 0
	inner := health.NewCheck("counted", func(context.Context) error {
		calls++
		return nil
	})
	cached := health.NewCachedCheck(inner, time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, cached.Check(context.Background()))
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, "counted", cached.Name())
}
