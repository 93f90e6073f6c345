package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamflix/gateway/internal/observability"
)

// Metrics holds backend call collectors.
type Metrics struct {
	errorsTotal     *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	responsesTotal  *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}
	return &Metrics{
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "errors_total",
			Help:      "Total number of backend call errors",
		}, []string{"backend", "error_type"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "backend_duration_seconds",
			Help:      "Duration of backend calls",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"backend"}),
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "responses_total",
			Help:      "Backend responses by status code",
		}, []string{"backend", "code"}),
	}
}

func (m *Metrics) observe(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) recordError(backend, errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(backend, errorType).Inc()
}

func (m *Metrics) recordResponse(backend string, code int) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(backend, strconv.Itoa(code)).Inc()
}

// MustRegister registers the collectors with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	observability.RegisterCollectors(reg, m.errorsTotal, m.backendDuration, m.responsesTotal)
}
