// Package canary decides whether a request goes to the canary deployment of
// a backend.
package canary

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/util"
)

// Defaults for the decision inputs.
const (
	DefaultHeader = util.HeaderCanary
	DefaultCookie = "streamflix-canary"
)

// Reasons recorded on a Decision. Random decisions carry the roll as
// ReasonRandom + "-" + roll.
const (
	ReasonHeader       = "header"
	ReasonHeaderOptOut = "header-opt-out"
	ReasonCookie       = "cookie"
	ReasonRandom       = "random"
)

// Decision is the placement of one request.
type Decision struct {
	UseCanary bool
	Reason    string
	// StickyToken is the cookie value when the decision came from the
	// sticky cookie.
	StickyToken string
}

// ReasonKind returns Reason without the random roll.
func (d Decision) ReasonKind() string {
	if strings.HasPrefix(d.Reason, ReasonRandom) {
		return ReasonRandom
	}
	return d.Reason
}

// HeaderValue is the value forwarded in the canary header.
func (d Decision) HeaderValue() string {
	return strconv.FormatBool(d.UseCanary)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRoll replaces the random source. roll must return a value in [0, 100).
func WithRoll(roll func() int) Option {
	return func(e *Engine) { e.roll = roll }
}

// WithHeader sets the opt-in/opt-out header name.
func WithHeader(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.header = name
		}
	}
}

// WithCookie sets the sticky cookie name.
func WithCookie(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.cookie = name
		}
	}
}

// Engine makes canary decisions. It reads the sticky cookie but never sets
// it.
type Engine struct {
	header string
	cookie string
	roll   func() int
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		header: DefaultHeader,
		cookie: DefaultCookie,
		roll:   func() int { return rand.IntN(100) }, //nolint:gosec // traffic split, not security
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide places r. An explicit header wins, then the sticky cookie, then a
// roll against percentage, which is clamped to [0, 100].
func (e *Engine) Decide(r *http.Request, percentage int) Decision {
	switch h := r.Header.Get(e.header); {
	case strings.EqualFold(h, "true"):
		return Decision{UseCanary: true, Reason: ReasonHeader}
	case strings.EqualFold(h, "false"):
		return Decision{UseCanary: false, Reason: ReasonHeaderOptOut}
	}

	if c, err := r.Cookie(e.cookie); err == nil {
		return Decision{UseCanary: c.Value == "true", Reason: ReasonCookie, StickyToken: c.Value}
	}

	percentage = max(0, min(100, percentage))
	roll := e.roll()
	return Decision{UseCanary: roll < percentage, Reason: ReasonRandom + "-" + strconv.Itoa(roll)}
}

// Metrics holds canary collectors.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}
	return &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "canary",
			Name:      "decisions_total",
			Help:      "Canary placement decisions by route, decision and reason",
		}, []string{"route", "decision", "reason_kind"}),
	}
}

// Record counts d for route.
func (m *Metrics) Record(route string, d Decision) {
	if m == nil {
		return
	}
	decision := "stable"
	if d.UseCanary {
		decision = "canary"
	}
	m.decisions.WithLabelValues(route, decision, d.ReasonKind()).Inc()
}

// MustRegister registers the collectors with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	observability.RegisterCollectors(reg, m.decisions)
}
