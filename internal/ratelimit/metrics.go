package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamflix/gateway/internal/observability"
)

// Metrics holds rate limiter collectors.
type Metrics struct {
	decisions    *prometheus.CounterVec
	storeErrors  prometheus.Counter
	breakerState prometheus.Gauge
}

// NewMetrics creates unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}
	return &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by class, result and source",
		}, []string{"class", "result", "source"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "store_errors_total",
			Help:      "Failed or refused calls to the shared rate limit store",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "store_breaker_state",
			Help:      "State of the store breaker (0 closed, 1 half-open, 2 open)",
		}),
	}
}

// RecordDecision counts one decision for class.
func (m *Metrics) RecordDecision(class string, res Result) {
	if m == nil {
		return
	}
	result := "allowed"
	if !res.Allowed {
		result = "rejected"
	}
	m.decisions.WithLabelValues(class, result, res.Source).Inc()
}

func (m *Metrics) recordStoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

func (m *Metrics) setBreakerState(v float64) {
	if m == nil {
		return
	}
	m.breakerState.Set(v)
}

// MustRegister registers the collectors with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	observability.RegisterCollectors(reg, m.decisions, m.storeErrors, m.breakerState)
}
