package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamflix/gateway/internal/observability"
)

// Metrics holds circuit breaker collectors.
type Metrics struct {
	state       *prometheus.GaugeVec
	calls       *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}
	return &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "calls_total",
			Help:      "Calls seen by circuit breakers by outcome",
		}, []string{"name", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state_changes_total",
			Help:      "Total number of circuit breaker state changes",
		}, []string{"name", "from", "to"}),
	}
}

// Call outcome labels.
const (
	outcomeSuccess      = "success"
	outcomeFailure      = "failure"
	outcomeSlowSuccess  = "slow_success"
	outcomeSlowFailure  = "slow_failure"
	outcomeIgnored      = "ignored"
	outcomeNotPermitted = "not_permitted"
)

func outcomeLabel(o outcome) string {
	switch {
	case o.failed && o.slow:
		return outcomeSlowFailure
	case o.failed:
		return outcomeFailure
	case o.slow:
		return outcomeSlowSuccess
	default:
		return outcomeSuccess
	}
}

func (m *Metrics) recordCall(name, result string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(name, result).Inc()
}

func (m *Metrics) recordState(name string, s State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(name).Set(float64(s))
}

func (m *Metrics) recordTransition(name string, from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name, from.String(), to.String()).Inc()
	m.state.WithLabelValues(name).Set(float64(to))
}

// MustRegister registers the collectors with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	observability.RegisterCollectors(reg, m.state, m.calls, m.transitions)
}
