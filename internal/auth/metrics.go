package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamflix/gateway/internal/observability"
)

// Metrics holds token validation collectors.
type Metrics struct {
	validations        *prometheus.CounterVec
	validationDuration prometheus.Histogram
	revocationErrors   *prometheus.CounterVec
	revocations        *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}
	return &Metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "validations_total",
			Help:      "Token validations by outcome",
		}, []string{"result"}),
		validationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "validation_duration_seconds",
			Help:      "Token validation latency including the revocation lookup",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .5, 1, 2.5},
		}),
		revocationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "revocation_check_errors_total",
			Help:      "Revocation store failures by applied policy",
		}, []string{"policy"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "revocations_total",
			Help:      "Token revocation requests by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) recordValidation(kind Kind, d time.Duration) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(kind.String()).Inc()
	m.validationDuration.Observe(d.Seconds())
}

func (m *Metrics) recordRevocationError(policy RevocationPolicy) {
	if m == nil {
		return
	}
	m.revocationErrors.WithLabelValues(policy.String()).Inc()
}

func (m *Metrics) recordRevocation(result string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(result).Inc()
}

// MustRegister registers the collectors with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	observability.RegisterCollectors(reg, m.validations, m.validationDuration, m.revocationErrors, m.revocations)
}
