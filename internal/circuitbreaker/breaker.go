package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/util"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls are refused.
	StateOpen

	// StateHalfOpen indicates trial calls are probing the backend.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCallNotPermitted matches every refusal by a breaker. Refusals are
// *util.CircuitOpenError values, which also match util.ErrCircuitOpen.
var ErrCallNotPermitted = util.ErrCircuitOpen

// Done reports the outcome of a call admitted by Acquire. Calling it more
// than once has no effect.
type Done func(err error, elapsed time.Duration)

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(b *Breaker) { b.metrics = m }
}

// WithStateChangeListener registers fn to run after every transition.
func WithStateChangeListener(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// Breaker is a circuit breaker for one backend.
type Breaker struct {
	name          string
	config        *Config
	now           func() time.Time
	logger        observability.Logger
	metrics       *Metrics
	onStateChange func(name string, from, to State)

	mu             sync.Mutex
	state          State
	window         *window
	generation     uint64
	trials         int
	openedAt       time.Time
	lastTransition time.Time
	notPermitted   int64
}

type transition struct {
	from, to     State
	failureRate  float64
	slowCallRate float64
}

// NewBreaker creates a CLOSED breaker. A nil or invalid config falls back
// to defaults field by field.
func NewBreaker(name string, cfg *Config, opts ...Option) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.applyDefaults()

	b := &Breaker{
		name:   name,
		config: &c,
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.state = StateClosed
	b.window = newWindow(c.SlidingWindowSize)
	b.lastTransition = b.now()
	b.metrics.recordState(name, StateClosed)
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An OPEN breaker whose wait has elapsed
// is reported as OPEN until the next call moves it to HALF_OPEN.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if the breaker permits it and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	done, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	start := b.now()
	err = fn(ctx)
	done(err, b.now().Sub(start))
	return err
}

// Acquire asks for permission to make one call. On success the caller must
// report the outcome through done. A refusal is a *util.CircuitOpenError.
func (b *Breaker) Acquire(ctx context.Context) (Done, error) {
	b.mu.Lock()
	var changes []transition
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.WaitDurationInOpenState {
		changes = append(changes, b.transitionLocked(StateHalfOpen))
	}

	permitted := true
	switch b.state {
	case StateOpen:
		permitted = false
	case StateHalfOpen:
		if b.trials >= b.config.PermittedCallsInHalfOpenState {
			permitted = false
		} else {
			b.trials++
		}
	}
	state := b.state
	gen := b.generation
	if !permitted {
		b.notPermitted++
	}
	b.mu.Unlock()

	b.emit(ctx, changes)

	if !permitted {
		b.metrics.recordCall(b.name, outcomeNotPermitted)
		b.logger.Warn("circuit breaker call not permitted",
			observability.String("name", b.name),
			observability.String("state", state.String()),
		)
		return nil, util.NewCircuitOpenError(b.name, state.String())
	}

	var once sync.Once
	return func(err error, elapsed time.Duration) {
		once.Do(func() { b.record(ctx, gen, err, elapsed) })
	}, nil
}

func (b *Breaker) record(ctx context.Context, gen uint64, err error, elapsed time.Duration) {
	if isIgnored(err) {
		b.metrics.recordCall(b.name, outcomeIgnored)
		b.mu.Lock()
		if gen == b.generation && b.state == StateHalfOpen {
			b.trials--
		}
		b.mu.Unlock()
		return
	}

	o := outcome{
		failed: b.config.isFailure(err),
		slow:   elapsed >= b.config.SlowCallDuration,
	}
	b.metrics.recordCall(b.name, outcomeLabel(o))

	b.mu.Lock()
	if gen != b.generation {
		// Admitted under an earlier state.
		b.mu.Unlock()
		return
	}
	b.window.add(o)

	var changes []transition
	switch b.state {
	case StateClosed:
		if b.window.size >= b.config.minimumCalls() && b.exceededLocked() {
			changes = append(changes, b.transitionLocked(StateOpen))
		}
	case StateHalfOpen:
		if b.window.size >= b.config.PermittedCallsInHalfOpenState {
			if b.exceededLocked() {
				changes = append(changes, b.transitionLocked(StateOpen))
			} else {
				changes = append(changes, b.transitionLocked(StateClosed))
			}
		}
	}
	b.mu.Unlock()

	b.emit(ctx, changes)
}

func (b *Breaker) exceededLocked() bool {
	return b.window.failureRate() >= b.config.FailureRateThreshold ||
		b.window.slowRate() >= b.config.SlowCallRateThreshold
}

// transitionLocked moves to state to. The window is kept when opening so the
// status still shows the rates that tripped it.
func (b *Breaker) transitionLocked(to State) transition {
	t := transition{
		from:         b.state,
		to:           to,
		failureRate:  b.window.failureRate(),
		slowCallRate: b.window.slowRate(),
	}
	now := b.now()
	b.state = to
	b.generation++
	b.lastTransition = now
	switch to {
	case StateOpen:
		b.openedAt = now
	case StateHalfOpen:
		b.trials = 0
		b.window = newWindow(b.config.PermittedCallsInHalfOpenState)
	case StateClosed:
		b.window = newWindow(b.config.SlidingWindowSize)
	}
	b.metrics.recordTransition(b.name, t.from, t.to)
	return t
}

func (b *Breaker) emit(ctx context.Context, changes []transition) {
	for _, t := range changes {
		if t.to == StateOpen {
			b.logger.Warn("circuit breaker rate threshold exceeded",
				observability.String("name", b.name),
				observability.Float64("failure_rate", t.failureRate),
				observability.Float64("slow_call_rate", t.slowCallRate),
			)
		}
		b.logger.Warn("circuit breaker state transition",
			observability.String("name", b.name),
			observability.String("from", t.from.String()),
			observability.String("to", t.to.String()),
		)
		observability.AddSpanEvent(ctx, "circuit_breaker.state_change",
			attribute.String("circuit_breaker.name", b.name),
			attribute.String("circuit_breaker.from", t.from.String()),
			attribute.String("circuit_breaker.to", t.to.String()),
		)
		if b.onStateChange != nil {
			b.onStateChange(b.name, t.from, t.to)
		}
	}
}

// Reset forces the breaker back to CLOSED with an empty window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var changes []transition
	if b.state != StateClosed {
		changes = append(changes, b.transitionLocked(StateClosed))
	} else {
		b.window = newWindow(b.config.SlidingWindowSize)
	}
	b.mu.Unlock()

	b.emit(context.Background(), changes)
	b.logger.Info("circuit breaker reset", observability.String("name", b.name))
}

// Status is a point-in-time view of a breaker.
type Status struct {
	Name  string `json:"name"`
	State string `json:"state"`
	// FailureRate and SlowCallRate are percentages, or -1 while fewer than
	// the minimum number of calls are buffered.
	FailureRate       float64   `json:"failureRate"`
	SlowCallRate      float64   `json:"slowCallRate"`
	BufferedCalls     int       `json:"bufferedCalls"`
	FailedCalls       int       `json:"failedCalls"`
	SuccessfulCalls   int       `json:"successfulCalls"`
	SlowCalls         int       `json:"slowCalls"`
	NotPermittedCalls int64     `json:"notPermittedCalls"`
	LastTransitionAt  time.Time `json:"lastTransitionAt"`
}

// Status returns the current status.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		Name:              b.name,
		State:             b.state.String(),
		FailureRate:       -1,
		SlowCallRate:      -1,
		BufferedCalls:     b.window.size,
		FailedCalls:       b.window.failed,
		SuccessfulCalls:   b.window.size - b.window.failed,
		SlowCalls:         b.window.slow,
		NotPermittedCalls: b.notPermitted,
		LastTransitionAt:  b.lastTransition,
	}
	minCalls := b.config.minimumCalls()
	if b.state == StateHalfOpen {
		minCalls = b.config.PermittedCallsInHalfOpenState
	}
	if b.window.size >= minCalls {
		s.FailureRate = b.window.failureRate()
		s.SlowCallRate = b.window.slowRate()
	}
	return s
}
