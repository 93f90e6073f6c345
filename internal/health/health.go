package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamflix/gateway/internal/circuitbreaker"
	"github.com/streamflix/gateway/internal/observability"
)

// Status values reported by the endpoints.
const (
	StatusUp       = "UP"
	StatusDegraded = "DEGRADED"
	StatusDown     = "DOWN"
)

// DefaultReadinessTimeout bounds one readiness probe.
const DefaultReadinessTimeout = 5 * time.Second

// BreakerSource reports circuit breaker states.
type BreakerSource interface {
	Snapshot() []circuitbreaker.Status
}

// GatewayHealth is the body of the aggregate health endpoint. The gateway is
// DEGRADED while any breaker is open.
type GatewayHealth struct {
	Status               string    `json:"status"`
	OpenCircuitBreakers  int       `json:"openCircuitBreakers"`
	TotalCircuitBreakers int       `json:"totalCircuitBreakers"`
	Timestamp            time.Time `json:"timestamp"`
}

// BreakerReport is the body of the circuit breaker endpoint.
type BreakerReport struct {
	CircuitBreakers map[string]circuitbreaker.Status `json:"circuitBreakers"`
	Timestamp       time.Time                        `json:"timestamp"`
}

// Readiness is the body of the readiness endpoint.
type Readiness struct {
	Status    string                  `json:"status"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Handler serves liveness, readiness and gateway health.
type Handler struct {
	mu     sync.RWMutex
	checks []Check

	breakers         BreakerSource
	logger           observability.Logger
	metrics          *Metrics
	readinessTimeout time.Duration
	startTime        time.Time
	now              func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithBreakers sets the breaker source used by the gateway endpoints.
func WithBreakers(b BreakerSource) Option {
	return func(h *Handler) { h.breakers = b }
}

// WithReadinessTimeout bounds each readiness probe.
func WithReadinessTimeout(d time.Duration) Option {
	return func(h *Handler) { h.readinessTimeout = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates a Handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger:           observability.NopLogger(),
		readinessTimeout: DefaultReadinessTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startTime = h.now()
	return h
}

// AddCheck registers a readiness dependency.
func (h *Handler) AddCheck(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// Gateway returns the aggregate gateway health.
func (h *Handler) Gateway() GatewayHealth {
	g := GatewayHealth{Status: StatusUp, Timestamp: h.now().UTC()}
	if h.breakers == nil {
		return g
	}
	for _, st := range h.breakers.Snapshot() {
		g.TotalCircuitBreakers++
		if st.State == circuitbreaker.StateOpen.String() {
			g.OpenCircuitBreakers++
		}
	}
	if g.OpenCircuitBreakers > 0 {
		g.Status = StatusDegraded
	}
	return g
}

// Breakers returns the state of every breaker by name.
func (h *Handler) Breakers() BreakerReport {
	r := BreakerReport{CircuitBreakers: map[string]circuitbreaker.Status{}, Timestamp: h.now().UTC()}
	if h.breakers == nil {
		return r
	}
	for _, st := range h.breakers.Snapshot() {
		r.CircuitBreakers[st.Name] = st
	}
	return r
}

// Ready runs every check concurrently.
func (h *Handler) Ready(ctx context.Context) Readiness {
	h.mu.RLock()
	checks := append([]Check(nil), h.checks...)
	h.mu.RUnlock()

	res := Readiness{Status: StatusUp, Checks: make(map[string]*CheckResult, len(checks)), Timestamp: h.now().UTC()}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, c := range checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			elapsed := time.Since(start)
			h.metrics.record(c.Name(), err == nil, elapsed)

			result := &CheckResult{Status: StatusUp, Duration: elapsed.String()}
			if err != nil {
				result.Status = StatusDown
				result.Error = err.Error()
				h.logger.Warn("health check failed",
					observability.String("check", c.Name()),
					observability.Duration("duration", elapsed),
					observability.Error(err),
				)
			}

			mu.Lock()
			defer mu.Unlock()
			res.Checks[c.Name()] = result
			if err != nil {
				res.Status = StatusDown
			}
		}(c)
	}
	wg.Wait()
	return res
}

// LivenessHandler answers as long as the process serves requests.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    StatusUp,
			"uptime":    h.now().Sub(h.startTime).Round(time.Second).String(),
			"timestamp": h.now().UTC(),
		})
	}
}

// ReadinessHandler reports 503 while any dependency is down.
func (h *Handler) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.readinessTimeout)
		defer cancel()

		res := h.Ready(ctx)
		code := http.StatusOK
		if res.Status != StatusUp {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, res)
	}
}

// GatewayHealthHandler serves Gateway. It is always 200; degradation is in
// the body.
func (h *Handler) GatewayHealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Gateway())
	}
}

// BreakersHandler serves Breakers.
func (h *Handler) BreakersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Breakers())
	}
}

// RegisterRoutes registers the health routes on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.LivenessHandler())
	r.GET("/ready", h.ReadinessHandler())
	r.GET("/gateway/health", h.GatewayHealthHandler())
	r.GET("/gateway/circuit-breakers", h.BreakersHandler())
}
