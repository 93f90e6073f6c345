package pipeline

import (
	"github.com/streamflix/gateway/internal/apierror"
	"github.com/streamflix/gateway/internal/canary"
	"github.com/streamflix/gateway/internal/circuitbreaker"
	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/correlation"
	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/ratelimit"
)

// Deps are the collaborators a pipeline is assembled from. Nil optional
// fields disable the matching feature.
type Deps struct {
	Logger  observability.Logger
	Metrics *observability.Metrics

	Forwarder Forwarder
	// Validator is required unless every route is public.
	Validator TokenValidator

	Limiter        ratelimit.Limiter
	KeyResolver    ratelimit.KeyResolver
	LimiterMetrics *ratelimit.Metrics

	Breakers *circuitbreaker.Registry

	Canary        *canary.Engine
	CanaryMetrics *canary.Metrics
}

// Build assembles the pipeline described by cfg: correlation, logging and
// authentication as global stages, guards and canary placement per route.
func Build(cfg *config.GatewayConfig, deps Deps) (*Orchestrator, error) {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	stages := []Stage{
		NewCorrelationStage(correlation.NewGenerator(cfg.Server.CorrelationPrefix, nil)),
		NewLoggingStage(logger, deps.Metrics, cfg.Server.SlowRequest.Duration()),
	}
	if deps.Validator != nil {
		stages = append(stages, NewAuthStage(deps.Validator, cfg.Auth.PublicPaths, logger))
	}

	opts := []Option{
		WithLogger(logger),
		WithTranslator(apierror.NewTranslator(logger, apierror.WithAPIVersion(cfg.Server.APIVersion))),
		WithStages(stages...),
		WithCircuitBreakers(deps.Breakers),
	}
	if deps.Limiter != nil && cfg.RateLimit.Enabled {
		opts = append(opts, WithRateLimiter(deps.Limiter, deps.KeyResolver, deps.LimiterMetrics))
	}
	if deps.Canary != nil {
		opts = append(opts, WithCanary(deps.Canary, deps.CanaryMetrics))
	}

	o := New(deps.Forwarder, opts...)
	if err := o.Reload(cfg); err != nil {
		return nil, err
	}
	return o, nil
}
