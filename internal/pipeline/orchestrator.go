package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync/atomic"

	"github.com/streamflix/gateway/internal/apierror"
	"github.com/streamflix/gateway/internal/authz"
	"github.com/streamflix/gateway/internal/canary"
	"github.com/streamflix/gateway/internal/circuitbreaker"
	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/proxy"
	"github.com/streamflix/gateway/internal/ratelimit"
	"github.com/streamflix/gateway/internal/router"
	"github.com/streamflix/gateway/internal/util"
)

// StatusClientClosedRequest is recorded for requests whose client went away
// before a response was written.
const StatusClientClosedRequest = 499

// Forwarder performs the backend round trip.
type Forwarder interface {
	Forward(ctx context.Context, target proxy.Target, in *http.Request, path string, extra http.Header) (*http.Response, error)
}

// routeTable is the routing state swapped on reload. A request uses one
// table from start to finish.
type routeTable struct {
	router  *router.Router
	stages  map[string][]Stage
	classes *ratelimit.Classes
}

// Orchestrator runs the global stages, matches the route, runs its scoped
// stages and finally forwards the request through the rate limiter and the
// circuit breaker.
type Orchestrator struct {
	stages     []Stage
	table      atomic.Pointer[routeTable]
	forwarder  Forwarder
	translator *apierror.Translator
	logger     observability.Logger

	limiter        ratelimit.Limiter
	keys           ratelimit.KeyResolver
	limiterMetrics *ratelimit.Metrics

	breakers *circuitbreaker.Registry

	canary        *canary.Engine
	canaryMetrics *canary.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStages adds global stages.
func WithStages(stages ...Stage) Option {
	return func(o *Orchestrator) {
		o.stages = append(o.stages, stages...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithTranslator sets the error translator.
func WithTranslator(t *apierror.Translator) Option {
	return func(o *Orchestrator) {
		o.translator = t
	}
}

// WithRateLimiter enables rate limiting. keys may be nil to use
// ratelimit.UserOrIPKey.
func WithRateLimiter(limiter ratelimit.Limiter, keys ratelimit.KeyResolver, metrics *ratelimit.Metrics) Option {
	return func(o *Orchestrator) {
		o.limiter = limiter
		o.keys = keys
		o.limiterMetrics = metrics
	}
}

// WithCircuitBreakers sets the breaker registry.
func WithCircuitBreakers(registry *circuitbreaker.Registry) Option {
	return func(o *Orchestrator) {
		o.breakers = registry
	}
}

// WithCanary sets the canary engine used by routes with a canary upstream.
func WithCanary(engine *canary.Engine, metrics *canary.Metrics) Option {
	return func(o *Orchestrator) {
		o.canary = engine
		o.canaryMetrics = metrics
	}
}

// New creates an Orchestrator. Routes are installed with Reload.
func New(forwarder Forwarder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		forwarder: forwarder,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.translator == nil {
		o.translator = apierror.NewTranslator(o.logger)
	}
	if o.keys == nil {
		o.keys = ratelimit.UserOrIPKey
	}
	o.stages = sortStages(o.stages)
	o.table.Store(&routeTable{router: router.New(), stages: map[string][]Stage{}})
	return o
}

// Stages returns the global stages in execution order.
func (o *Orchestrator) Stages() []Stage {
	return append([]Stage(nil), o.stages...)
}

// Router returns the active route table.
func (o *Orchestrator) Router() *router.Router {
	return o.table.Load().router
}

// Reload compiles routes, their scoped stages and the rate-limit classes of
// cfg and installs them together. On error the active configuration is
// kept.
func (o *Orchestrator) Reload(cfg *config.GatewayConfig) error {
	rt := router.New()
	if err := rt.Load(cfg.Routes); err != nil {
		return err
	}

	var classes *ratelimit.Classes
	if cfg.RateLimit.Enabled {
		var err error
		if classes, err = NewClasses(cfg.RateLimit); err != nil {
			return err
		}
	}

	stages := make(map[string][]Stage)
	for _, route := range rt.Routes() {
		stages[route.Name] = o.routeStages(route)
	}

	for _, s := range o.stages {
		if r, ok := s.(reloader); ok {
			if err := r.Reload(cfg); err != nil {
				return fmt.Errorf("reloading stage %s: %w", s.Name(), err)
			}
		}
	}

	o.table.Store(&routeTable{router: rt, stages: stages, classes: classes})
	o.logger.Info("pipeline routes loaded",
		observability.Int("routes", len(cfg.Routes)),
		observability.Bool("rate_limit", classes != nil),
	)
	return nil
}

// NewClasses converts the configured rate-limit classes.
func NewClasses(cfg config.RateLimitConfig) (*ratelimit.Classes, error) {
	limits := make(map[string]ratelimit.Limit, len(cfg.Classes))
	for name, c := range cfg.Classes {
		limits[name] = ratelimit.Limit{
			ReplenishRate:   c.ReplenishRate,
			BurstCapacity:   c.BurstCapacity,
			RequestedTokens: c.RequestedTokens,
		}
	}
	return ratelimit.NewClasses(limits, cfg.DefaultClass)
}

func (o *Orchestrator) routeStages(route *router.Route) []Stage {
	var stages []Stage
	if guards := authz.ForRoute(route.Config.RequireProfile, route.Config.RequiredRoles, o.logger); len(guards) > 0 {
		stages = append(stages, NewGuardStage(guards...))
	}
	if route.CanaryUpstream != nil && o.canary != nil {
		stages = append(stages, NewCanaryStage(o.canary, o.canaryMetrics, route.Config.CanaryPercentage))
	}
	return sortStages(stages)
}

// ServeHTTP implements http.Handler.
func (o *Orchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.Process(NewRequestContext(w, r))
}

// Process runs rc through the pipeline. Every error is translated into the
// response unless the response is already committed.
func (o *Orchestrator) Process(rc *RequestContext) {
	rc.fail = o.fail
	table := o.table.Load()
	err := o.run(rc, o.stages, func(rc *RequestContext) error {
		return o.dispatch(rc, table)
	})
	if err != nil {
		o.fail(rc, err)
	}
}

// run executes stages in order, then terminal. A panicking stage is turned
// into a *PanicError returned to the stage before it.
func (o *Orchestrator) run(rc *RequestContext, stages []Stage, terminal Next) error {
	if len(stages) == 0 {
		return terminal(rc)
	}
	s := stages[0]
	return o.guard(s.Name(), rc, func() error {
		return s.Process(rc, func(rc *RequestContext) error {
			return o.run(rc, stages[1:], terminal)
		})
	})
}

func (o *Orchestrator) guard(stage string, rc *RequestContext, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("panic recovered",
				observability.String("stage", stage),
				observability.String("correlation_id", rc.CorrelationID),
				observability.String("path", rc.Request.URL.Path),
				observability.Any("error", p),
				observability.String("stack", string(debug.Stack())),
			)
			err = &PanicError{Stage: stage, Value: p}
		}
	}()
	return fn()
}

func (o *Orchestrator) dispatch(rc *RequestContext, table *routeTable) error {
	route, err := table.router.Match(rc.Request)
	if err != nil {
		return err
	}
	rc.Route = route
	return o.run(rc, table.stages[route.Name], func(rc *RequestContext) error {
		return o.forward(rc, table.classes)
	})
}

func (o *Orchestrator) forward(rc *RequestContext, classes *ratelimit.Classes) error {
	route := rc.Route
	r := rc.Request
	observability.InjectTraceContext(rc.Context(), rc.Outbound)

	target := proxy.Target{
		Backend: route.Backend(),
		URL:     route.Target(rc.Canary.UseCanary),
		Timeout: route.Timeout(),
	}
	path := route.UpstreamPath(r.URL.Path)
	call := Call(func(ctx context.Context) (*http.Response, error) {
		return o.forwarder.Forward(ctx, target, r, path, rc.Outbound)
	})

	if o.limiter != nil && classes != nil {
		rc.RateLimitKey = o.keys.Resolve(r, rc.UserID())
		class, limit := classes.Lookup(route.Config.RateLimit)
		call = WithRateLimit(o.limiter, RateLimitRule{Key: rc.RateLimitKey, Class: class, Limit: limit}, o.limiterMetrics, call)
	}

	var fallback *circuitbreaker.Fallback
	if route.Config.Fallback != "" {
		fb := circuitbreaker.FallbackFor(route.Config.Fallback)
		fallback = &fb
	}
	call = WithCircuitBreaker(o.breakers, route.Backend(), fallback, call)

	resp, err := call(rc.Context())
	if resp == nil {
		return err
	}

	// The gateway's correlation id is already on the response.
	resp.Header.Del(util.HeaderCorrelationID)
	if werr := proxy.WriteResponse(rc.Writer, resp); werr != nil {
		o.logger.Debug("response relay interrupted",
			observability.String("correlation_id", rc.CorrelationID),
			observability.String("backend", target.Backend),
			observability.Error(werr),
		)
	}
	return nil
}

func (o *Orchestrator) fail(rc *RequestContext, err error) {
	if errors.Is(err, context.Canceled) && rc.Context().Err() != nil {
		o.logger.Debug("client disconnected",
			observability.String("correlation_id", rc.CorrelationID),
			observability.String("path", rc.Request.URL.Path),
		)
		if !rc.Committed() {
			rc.Writer.StatusCode = StatusClientClosedRequest
		}
		return
	}
	o.translator.Handle(rc.Writer, rc.Request, err, rc.CorrelationID)
}
