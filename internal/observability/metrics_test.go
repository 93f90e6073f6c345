package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordRequest(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	m.RecordRequest(http.MethodGet, "content", http.StatusOK, 20*time.Millisecond)
	m.RecordRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "content", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", UnmatchedRoute, "404")))
}

func TestMetrics_RequestStarted(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	done := m.RequestStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRequests))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRequests))
}

func TestMetrics_HandlerExposesComponentCollectors(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	extra := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_component_total", Help: "x"})
	m.MustRegister(extra)
	extra.Inc()
	m.RecordConfigReload("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "test_component_total 1"))
	assert.True(t, strings.Contains(body, `test_config_reloads_total{result="success"} 1`))
}

func TestRegisterCollectors_IgnoresDuplicates(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "dup"})

	RegisterCollectors(reg, c)
	assert.NotPanics(t, func() { RegisterCollectors(reg, c) })

	clash := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_total", Help: "other"})
	assert.Panics(t, func() { RegisterCollectors(reg, clash) })
}
