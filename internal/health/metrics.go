package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamflix/gateway/internal/observability"
)

// Metrics holds health check collectors.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	checkStatus   *prometheus.GaugeVec
	checkDuration *prometheus.HistogramVec
}

// NewMetrics creates unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}
	return &Metrics{
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of dependency checks performed",
		}, []string{"check", "result"}),
		checkStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_status",
			Help:      "Current dependency status (1=healthy, 0=unhealthy)",
		}, []string{"check"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Duration of dependency checks",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"check"}),
	}
}

func (m *Metrics) record(check string, healthy bool, d time.Duration) {
	if m == nil {
		return
	}
	result, status := "healthy", 1.0
	if !healthy {
		result, status = "unhealthy", 0
	}
	m.checksTotal.WithLabelValues(check, result).Inc()
	m.checkStatus.WithLabelValues(check).Set(status)
	m.checkDuration.WithLabelValues(check).Observe(d.Seconds())
}

// MustRegister registers the collectors with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	observability.RegisterCollectors(reg, m.checksTotal, m.checkStatus, m.checkDuration)
}
