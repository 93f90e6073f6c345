package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/util"
)

var errBackend = errors.New("backend failed")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() *Config {
	return &Config{
		FailureRateThreshold:          50,
		SlowCallRateThreshold:         100,
		SlowCallDuration:              2 * time.Second,
		SlidingWindowSize:             10,
		MinimumNumberOfCalls:          10,
		WaitDurationInOpenState:       30 * time.Second,
		PermittedCallsInHalfOpenState: 3,
	}
}

func call(b *Breaker, err error) error {
	return b.Execute(context.Background(), func(context.Context) error { return err })
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}

func TestBreaker_OpensAtFailureRate(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	b := NewBreaker("content", testConfig(), WithClock(clock.Now))

	for i := 0; i < 4; i++ {
		require.NoError(t, call(b, nil))
	}
	for i := 0; i < 5; i++ {
		require.ErrorIs(t, call(b, errBackend), errBackend)
		assert.Equal(t, StateClosed, b.State(), "below minimum calls after %d failures", i+1)
	}
	require.ErrorIs(t, call(b, errBackend), errBackend)
	assert.Equal(t, StateOpen, b.State())

	err := call(b, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCallNotPermitted)
	assert.ErrorIs(t, err, util.ErrCircuitOpen)
	var openErr *util.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "content", openErr.Name)
	assert.Equal(t, "OPEN", openErr.State)
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	t.Parallel()

	b := NewBreaker("search", testConfig())
	for i := 0; i < 30; i++ {
		var err error
		if i%3 == 0 {
			err = errBackend
		}
		_ = call(b, err)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SlidingWindowForgetsOldOutcomes(t *testing.T) {
	t.Parallel()

	b := NewBreaker("search", testConfig())
	for i := 0; i < 4; i++ {
		_ = call(b, errBackend)
	}
	for i := 0; i < 10; i++ {
		_ = call(b, nil)
	}
	st := b.Status()
	assert.Equal(t, 10, st.BufferedCalls)
	assert.Equal(t, 0, st.FailedCalls)
	assert.Equal(t, float64(0), st.FailureRate)
}

func TestBreaker_HalfOpenAdmitsExactTrials(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	b := NewBreaker("playback", testConfig(), WithClock(clock.Now))
	for i := 0; i < 10; i++ {
		_ = call(b, errBackend)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(29 * time.Second)
	_, err := b.Acquire(context.Background())
	require.ErrorIs(t, err, ErrCallNotPermitted)

	clock.Advance(time.Second)
	var dones []Done
	for i := 0; i < 3; i++ {
		done, err := b.Acquire(context.Background())
		require.NoError(t, err, "trial %d", i+1)
		dones = append(dones, done)
	}
	assert.Equal(t, StateHalfOpen, b.State())

	_, err = b.Acquire(context.Background())
	require.ErrorIs(t, err, ErrCallNotPermitted)
	var openErr *util.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "HALF_OPEN", openErr.State)

	for _, done := range dones {
		done(nil, 10*time.Millisecond)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Status().BufferedCalls)
}

func TestBreaker_HalfOpenReopensOnFailures(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	b := NewBreaker("auth", testConfig(), WithClock(clock.Now))
	for i := 0; i < 10; i++ {
		_ = call(b, errBackend)
	}
	clock.Advance(30 * time.Second)

	require.NoError(t, call(b, nil))
	require.ErrorIs(t, call(b, errBackend), errBackend)
	require.ErrorIs(t, call(b, errBackend), errBackend)
	assert.Equal(t, StateOpen, b.State())

	// The wait restarts from the reopen.
	clock.Advance(29 * time.Second)
	require.ErrorIs(t, call(b, nil), ErrCallNotPermitted)
	clock.Advance(time.Second)
	require.NoError(t, call(b, nil))
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_SlowCalls(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SlowCallRateThreshold = 50
	cfg.MinimumNumberOfCalls = 4
	b := NewBreaker("recommendations", cfg)

	for i := 0; i < 4; i++ {
		done, err := b.Acquire(context.Background())
		require.NoError(t, err)
		elapsed := 100 * time.Millisecond
		if i%2 == 0 {
			elapsed = 3 * time.Second
		}
		done(nil, elapsed)
	}
	assert.Equal(t, StateOpen, b.State())
	st := b.Status()
	assert.Equal(t, float64(50), st.SlowCallRate)
	assert.Equal(t, 2, st.SlowCalls)
	assert.Equal(t, 0, st.FailedCalls)
}

func TestBreaker_IgnoresCallsThatNeverReachedTheBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"client canceled", context.Canceled},
		{"rate limited", util.NewRateLimitError("user:u-1", 10, 0, time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			cfg.MinimumNumberOfCalls = 2
			b := NewBreaker("content", cfg)

			for i := 0; i < 5; i++ {
				_ = call(b, tt.err)
			}
			assert.Equal(t, StateClosed, b.State())
			assert.Equal(t, 0, b.Status().BufferedCalls)
		})
	}
}

func TestBreaker_CustomFailureClassifier(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MinimumNumberOfCalls = 2
	cfg.IsFailure = func(err error) bool {
		var se *util.ServerError
		return errors.As(err, &se)
	}
	b := NewBreaker("content", cfg)

	_ = call(b, util.NewStatusError(404, "missing"))
	_ = call(b, util.NewStatusError(404, "missing"))
	assert.Equal(t, StateClosed, b.State())

	_ = call(b, util.NewServerError(502))
	_ = call(b, util.NewServerError(503))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_DoneIsIdempotentAndStaleOutcomesDropped(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MinimumNumberOfCalls = 1
	b := NewBreaker("content", cfg)

	stale, err := b.Acquire(context.Background())
	require.NoError(t, err)
	done, err := b.Acquire(context.Background())
	require.NoError(t, err)

	done(errBackend, time.Millisecond)
	done(errBackend, time.Millisecond)
	require.Equal(t, StateOpen, b.State())
	assert.Equal(t, 1, b.Status().BufferedCalls)

	stale(nil, time.Millisecond)
	assert.Equal(t, 1, b.Status().BufferedCalls)
}

func TestBreaker_TransitionsAreObservable(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := NewMetrics("test")
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	var mu sync.Mutex
	var seen []string
	b := NewBreaker("content", testConfig(),
		WithClock(clock.Now),
		WithLogger(observability.NewLoggerFromZap(zap.New(core))),
		WithMetrics(metrics),
		WithStateChangeListener(func(name string, from, to State) {
			mu.Lock()
			seen = append(seen, name+":"+from.String()+"->"+to.String())
			mu.Unlock()
		}),
	)

	for i := 0; i < 10; i++ {
		_ = call(b, errBackend)
	}
	_ = call(b, nil)
	clock.Advance(30 * time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, call(b, nil))
	}

	mu.Lock()
	assert.Equal(t, []string{
		"content:CLOSED->OPEN",
		"content:OPEN->HALF_OPEN",
		"content:HALF_OPEN->CLOSED",
	}, seen)
	mu.Unlock()

	transitions := logs.FilterMessage("circuit breaker state transition").All()
	require.Len(t, transitions, 3)
	assert.Equal(t, "CLOSED", transitions[0].ContextMap()["from"])
	assert.Equal(t, "OPEN", transitions[0].ContextMap()["to"])
	assert.Equal(t, 1, logs.FilterMessage("circuit breaker rate threshold exceeded").Len())
	assert.Equal(t, 1, logs.FilterMessage("circuit breaker call not permitted").Len())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues("content", "CLOSED", "OPEN")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.state.WithLabelValues("content")))
	assert.Equal(t, float64(10), testutil.ToFloat64(metrics.calls.WithLabelValues("content", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.calls.WithLabelValues("content", "not_permitted")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.calls.WithLabelValues("content", "success")))
}

func TestBreaker_StatusBeforeMinimumCalls(t *testing.T) {
	t.Parallel()

	b := NewBreaker("content", testConfig())
	_ = call(b, errBackend)
	st := b.Status()
	assert.Equal(t, "content", st.Name)
	assert.Equal(t, "CLOSED", st.State)
	assert.Equal(t, float64(-1), st.FailureRate)
	assert.Equal(t, float64(-1), st.SlowCallRate)
	assert.Equal(t, 1, st.BufferedCalls)
	assert.Equal(t, 1, st.FailedCalls)
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := NewBreaker("content", testConfig())
	for i := 0; i < 10; i++ {
		_ = call(b, errBackend)
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, call(b, nil))
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	t.Parallel()

	b := NewBreaker("content", DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = call(b, nil)
			_ = b.Status()
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 10, b.Status().BufferedCalls)
}
