package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/observability"
)

// Registry holds one breaker per backend name. Breakers are created on
// first use and live for the life of the process.
type Registry struct {
	breakers sync.Map

	mu        sync.RWMutex
	defaults  *Config
	overrides map[string]*Config

	now           func() time.Time
	logger        observability.Logger
	metrics       *Metrics
	onStateChange func(name string, from, to State)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock sets the clock given to every breaker.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithRegistryMetrics sets the metrics shared by every breaker.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryStateChangeListener registers fn on every breaker.
func WithRegistryStateChangeListener(fn func(name string, from, to State)) RegistryOption {
	return func(r *Registry) { r.onStateChange = fn }
}

// WithOverrides sets per-name configs used instead of the defaults.
func WithOverrides(overrides map[string]*Config) RegistryOption {
	return func(r *Registry) { r.overrides = overrides }
}

// NewRegistry creates a new circuit breaker registry.
func NewRegistry(defaults *Config, opts ...RegistryOption) *Registry {
	if defaults == nil {
		defaults = DefaultConfig()
	}
	r := &Registry{
		defaults: defaults,
		now:      time.Now,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRegistryFromConfig creates a registry from the circuitBreaker section
// of the gateway configuration.
func NewRegistryFromConfig(cfg config.CircuitBreakerConfig, opts ...RegistryOption) *Registry {
	overrides := make(map[string]*Config, len(cfg.Instances))
	for name := range cfg.Instances {
		overrides[name] = FromSettings(cfg.BreakerFor(name))
	}
	return NewRegistry(FromSettings(cfg.Defaults), append([]RegistryOption{WithOverrides(overrides)}, opts...)...)
}

// Get returns a circuit breaker by name, or nil if not found.
func (r *Registry) Get(name string) *Breaker {
	value, ok := r.breakers.Load(name)
	if !ok {
		return nil
	}
	return value.(*Breaker)
}

// GetOrCreate returns an existing circuit breaker or creates a new one.
func (r *Registry) GetOrCreate(name string) *Breaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*Breaker)
	}

	cb := NewBreaker(name, r.configFor(name),
		WithClock(r.now),
		WithLogger(r.logger),
		WithMetrics(r.metrics),
		WithStateChangeListener(r.onStateChange),
	)

	actual, loaded := r.breakers.LoadOrStore(name, cb)
	if loaded {
		return actual.(*Breaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("name", name),
	)
	return cb
}

func (r *Registry) configFor(name string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.overrides[name]; ok {
		return c
	}
	return r.defaults
}

// UpdateConfig replaces the configs used for breakers created from now on.
// Existing breakers keep their state and thresholds.
func (r *Registry) UpdateConfig(cfg config.CircuitBreakerConfig) {
	overrides := make(map[string]*Config, len(cfg.Instances))
	for name := range cfg.Instances {
		overrides[name] = FromSettings(cfg.BreakerFor(name))
	}
	r.mu.Lock()
	r.defaults = FromSettings(cfg.Defaults)
	r.overrides = overrides
	r.mu.Unlock()
}

// Snapshot returns the status of every breaker sorted by name.
func (r *Registry) Snapshot() []Status {
	var out []Status
	r.breakers.Range(func(_, value interface{}) bool {
		out = append(out, value.(*Breaker).Status())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OpenCount returns the number of OPEN breakers.
func (r *Registry) OpenCount() int {
	count := 0
	r.breakers.Range(func(_, value interface{}) bool {
		if value.(*Breaker).State() == StateOpen {
			count++
		}
		return true
	})
	return count
}

// Count returns the number of circuit breakers in the registry.
func (r *Registry) Count() int {
	count := 0
	r.breakers.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// ResetAll resets all circuit breakers to closed state.
func (r *Registry) ResetAll() {
	r.breakers.Range(func(_, value interface{}) bool {
		value.(*Breaker).Reset()
		return true
	})
	r.logger.Info("reset all circuit breakers")
}
