package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/streamflix/gateway/internal/auth"
	"github.com/streamflix/gateway/internal/authz"
	"github.com/streamflix/gateway/internal/canary"
	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/correlation"
	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/util"
)

// DefaultSlowRequestThreshold is the latency above which a request is
// logged at warn level.
const DefaultSlowRequestThreshold = 3 * time.Second

// reloader is implemented by stages that follow configuration changes.
type reloader interface {
	Reload(cfg *config.GatewayConfig) error
}

// CorrelationStage assigns the correlation id and echoes it to the client
// and the backend.
type CorrelationStage struct {
	gen *correlation.Generator
}

// NewCorrelationStage creates a CorrelationStage. A nil generator uses the
// default prefix.
func NewCorrelationStage(gen *correlation.Generator) *CorrelationStage {
	if gen == nil {
		gen = correlation.NewGenerator(correlation.DefaultPrefix, nil)
	}
	return &CorrelationStage{gen: gen}
}

// Name implements Stage.
func (s *CorrelationStage) Name() string { return "correlation" }

// Order implements Stage.
func (s *CorrelationStage) Order() int { return OrderCorrelation }

// Process implements Stage.
func (s *CorrelationStage) Process(rc *RequestContext, next Next) error {
	id := s.gen.Ensure(rc.Request)
	rc.CorrelationID = id
	rc.Writer.Header().Set(util.HeaderCorrelationID, id)
	rc.Outbound.Set(util.HeaderCorrelationID, id)
	rc.WithContext(observability.ContextWithRequestID(rc.Context(), id))
	return next(rc)
}

// LoggingStage logs every request and its outcome and records the request
// metrics. Errors from later stages are translated here so the logged
// status is the one the client sees.
type LoggingStage struct {
	logger  observability.Logger
	metrics *observability.Metrics
	slow    time.Duration
}

// NewLoggingStage creates a LoggingStage. metrics may be nil.
func NewLoggingStage(logger observability.Logger, metrics *observability.Metrics, slow time.Duration) *LoggingStage {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if slow <= 0 {
		slow = DefaultSlowRequestThreshold
	}
	return &LoggingStage{logger: logger, metrics: metrics, slow: slow}
}

// Name implements Stage.
func (s *LoggingStage) Name() string { return "logging" }

// Order implements Stage.
func (s *LoggingStage) Order() int { return OrderLogging }

// Process implements Stage.
func (s *LoggingStage) Process(rc *RequestContext, next Next) error {
	r := rc.Request
	method, path := r.Method, r.URL.Path
	log := s.logger.With(observability.String("correlation_id", rc.CorrelationID))

	log.Info(fmt.Sprintf("-> %s %s from %s", method, path, util.ClientIP(r)))

	if s.metrics != nil {
		defer s.metrics.RequestStarted()()
	}

	start := time.Now()
	if err := next(rc); err != nil {
		rc.Fail(err)
	}
	elapsed := time.Since(start)
	status := rc.Writer.StatusCode

	if elapsed > s.slow {
		log.Warn(fmt.Sprintf("<- %s %s %d (SLOW: %dms)", method, path, status, elapsed.Milliseconds()))
	} else {
		log.Info(fmt.Sprintf("<- %s %s %d (%dms)", method, path, status, elapsed.Milliseconds()))
	}

	userID := rc.UserID()
	if userID == "" {
		userID = "anonymous"
	}
	profileID := rc.ProfileID
	if profileID == "" {
		profileID = "none"
	}
	log.Debug("request identity",
		observability.String("user_id", userID),
		observability.String("profile_id", profileID),
		observability.String("route", rc.RouteName()),
	)

	if s.metrics != nil {
		route := rc.RouteName()
		if route == "" {
			route = observability.UnmatchedRoute
		}
		s.metrics.RecordRequest(method, route, status, elapsed)
	}
	return nil
}

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(ctx context.Context, token string) auth.Result
}

// AuthStage authenticates the bearer token and propagates the identity to
// the backend. Identity headers sent by the client are always removed.
type AuthStage struct {
	validator TokenValidator
	public    atomic.Pointer[auth.PublicPaths]
	logger    observability.Logger
}

// NewAuthStage creates an AuthStage.
func NewAuthStage(validator TokenValidator, publicPaths []string, logger observability.Logger) *AuthStage {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &AuthStage{validator: validator, logger: logger}
	s.public.Store(auth.NewPublicPaths(publicPaths))
	return s
}

// Name implements Stage.
func (s *AuthStage) Name() string { return "authentication" }

// Order implements Stage.
func (s *AuthStage) Order() int { return OrderAuth }

// Reload replaces the public paths.
func (s *AuthStage) Reload(cfg *config.GatewayConfig) error {
	s.public.Store(auth.NewPublicPaths(cfg.Auth.PublicPaths))
	return nil
}

// Process implements Stage.
func (s *AuthStage) Process(rc *RequestContext, next Next) error {
	r := rc.Request
	r.Header.Del(util.HeaderUserID)
	r.Header.Del(util.HeaderProfileID)
	r.Header.Del(util.HeaderUserRoles)

	if s.public.Load().Match(r.URL.Path) {
		s.logger.Debug("skipping authentication for public path",
			observability.String("path", r.URL.Path),
		)
		return next(rc)
	}

	token, err := auth.ExtractBearer(r)
	if err != nil {
		s.logger.Debug("no bearer token",
			observability.String("correlation_id", rc.CorrelationID),
			observability.String("path", r.URL.Path),
		)
		return auth.MissingCredentials()
	}

	res := s.validator.Validate(rc.Context(), token)
	if !res.Valid() {
		s.logger.Debug("token rejected",
			observability.String("correlation_id", rc.CorrelationID),
			observability.String("kind", res.Kind.String()),
			observability.Error(res.Err),
		)
		return res.Rejection()
	}

	id := res.Identity
	rc.Identity = id
	rc.ProfileID = id.ProfileID
	rc.Roles = id.Roles

	rc.Outbound.Set(util.HeaderUserID, id.UserID)
	if id.ProfileID != "" {
		rc.Outbound.Set(util.HeaderProfileID, id.ProfileID)
	}
	if len(id.Roles) > 0 {
		rc.Outbound.Set(util.HeaderUserRoles, strings.Join(id.Roles, ","))
	}
	rc.WithContext(auth.ContextWithIdentity(rc.Context(), id))

	s.logger.Debug("authenticated",
		observability.String("correlation_id", rc.CorrelationID),
		observability.String("user_id", id.UserID),
		observability.String("profile_id", id.ProfileID),
		observability.Strings("roles", id.Roles),
	)
	return next(rc)
}

// GuardStage runs the authorization guards of one route.
type GuardStage struct {
	guards []authz.Guard
}

// NewGuardStage creates a GuardStage.
func NewGuardStage(guards ...authz.Guard) *GuardStage {
	return &GuardStage{guards: guards}
}

// Name implements Stage.
func (s *GuardStage) Name() string { return "authorization" }

// Order implements Stage.
func (s *GuardStage) Order() int { return OrderGuards }

// Process implements Stage.
func (s *GuardStage) Process(rc *RequestContext, next Next) error {
	subject := authz.Subject{
		UserID:    rc.UserID(),
		ProfileID: rc.ProfileID,
		Roles:     rc.Roles,
		Method:    rc.Request.Method,
		Path:      rc.Request.URL.Path,
		Route:     rc.RouteName(),
	}
	for _, g := range s.guards {
		if err := g.Check(subject); err != nil {
			return err
		}
	}
	return next(rc)
}

// CanaryStage places the request on the stable or canary upstream of a
// route.
type CanaryStage struct {
	engine     *canary.Engine
	metrics    *canary.Metrics
	percentage int
}

// NewCanaryStage creates a CanaryStage for a route sending percentage of
// undecided traffic to its canary.
func NewCanaryStage(engine *canary.Engine, metrics *canary.Metrics, percentage int) *CanaryStage {
	return &CanaryStage{engine: engine, metrics: metrics, percentage: percentage}
}

// Name implements Stage.
func (s *CanaryStage) Name() string { return "canary" }

// Order implements Stage.
func (s *CanaryStage) Order() int { return OrderCanary }

// Process implements Stage. The decision is recorded only for requests the
// rate limiter admitted.
func (s *CanaryStage) Process(rc *RequestContext, next Next) error {
	d := s.engine.Decide(rc.Request, s.percentage)
	rc.Canary = d
	rc.Outbound.Set(util.HeaderCanary, d.HeaderValue())

	err := next(rc)
	var limited *util.RateLimitError
	if errors.As(err, &limited) {
		return err
	}
	s.metrics.Record(rc.RouteName(), d)
	observability.AddSpanEvent(rc.Context(), "canary.decision",
		attribute.Bool("canary", d.UseCanary),
		attribute.String("reason", d.Reason),
	)
	return err
}
