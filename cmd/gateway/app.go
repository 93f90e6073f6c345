package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamflix/gateway/internal/admin"
	"github.com/streamflix/gateway/internal/auth"
	"github.com/streamflix/gateway/internal/canary"
	"github.com/streamflix/gateway/internal/circuitbreaker"
	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/correlation"
	"github.com/streamflix/gateway/internal/health"
	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/pipeline"
	"github.com/streamflix/gateway/internal/proxy"
	"github.com/streamflix/gateway/internal/ratelimit"
	"github.com/streamflix/gateway/internal/ratelimit/store"
)

const (
	metricsNamespace = "gateway"

	// readinessCacheTTL keeps frequent probes from pinging Redis each time.
	readinessCacheTTL = 2 * time.Second
)

// application holds all application components.
type application struct {
	config *config.GatewayConfig
	logger observability.Logger

	metrics *observability.Metrics
	tracer  *observability.Tracer
	redis   *redis.Client

	validator    *auth.Validator
	breakers     *circuitbreaker.Registry
	orchestrator *pipeline.Orchestrator
	health       *health.Handler

	gatewayServer *http.Server
	adminServer   *http.Server
}

// initApplication initializes all application components. Redis being
// unreachable is not fatal: the gateway starts degraded and recovers once
// the store answers.
func initApplication(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	app.metrics = observability.NewMetrics(metricsNamespace)
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer, err := observability.NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	client, err := store.Connect(ctx, redisConfig(cfg.Redis), logger)
	if err != nil {
		logger.Warn("redis unavailable at startup, continuing degraded",
			observability.String("address", cfg.Redis.Address),
			observability.Error(err),
		)
	}
	app.redis = client

	if app.validator, err = initValidator(cfg, client, app.metrics, logger); err != nil {
		return nil, err
	}

	limiterMetrics := ratelimit.NewMetrics(metricsNamespace)
	limiterMetrics.MustRegister(app.metrics.Registry())
	limiter := ratelimit.NewRedisLimiter(client, ratelimit.RedisLimiterConfig{
		KeyPrefix:           cfg.RateLimit.KeyPrefix,
		CommandTimeout:      cfg.Redis.CommandTimeout.Duration(),
		FallbackEnabled:     cfg.RateLimit.Fallback.Enabled,
		FallbackMaxKeys:     cfg.RateLimit.Fallback.MaxKeys,
		FallbackTTL:         cfg.RateLimit.Fallback.TTL.Duration(),
		StoreBreakerTimeout: cfg.RateLimit.Fallback.StoreBreakerTimeout.Duration(),
		StoreBreakerTrips:   cfg.RateLimit.Fallback.StoreBreakerFailures,
	}, ratelimit.WithLogger(logger), ratelimit.WithMetrics(limiterMetrics))

	breakerMetrics := circuitbreaker.NewMetrics(metricsNamespace)
	breakerMetrics.MustRegister(app.metrics.Registry())
	app.breakers = circuitbreaker.NewRegistryFromConfig(cfg.CircuitBreaker,
		circuitbreaker.WithRegistryLogger(logger),
		circuitbreaker.WithRegistryMetrics(breakerMetrics),
	)

	proxyMetrics := proxy.NewMetrics(metricsNamespace)
	proxyMetrics.MustRegister(app.metrics.Registry())
	forwarder := proxy.NewForwarder(proxy.WithLogger(logger), proxy.WithMetrics(proxyMetrics))

	canaryMetrics := canary.NewMetrics(metricsNamespace)
	canaryMetrics.MustRegister(app.metrics.Registry())
	engine := canary.NewEngine(canary.WithHeader(cfg.Canary.Header), canary.WithCookie(cfg.Canary.Cookie))

	app.orchestrator, err = pipeline.Build(cfg, pipeline.Deps{
		Logger:         logger,
		Metrics:        app.metrics,
		Forwarder:      forwarder,
		Validator:      app.validator,
		Limiter:        limiter,
		KeyResolver:    ratelimit.UserOrIPKey,
		LimiterMetrics: limiterMetrics,
		Breakers:       app.breakers,
		Canary:         engine,
		CanaryMetrics:  canaryMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	healthMetrics := health.NewMetrics(metricsNamespace)
	healthMetrics.MustRegister(app.metrics.Registry())
	app.health = health.NewHandler(
		health.WithLogger(logger),
		health.WithMetrics(healthMetrics),
		health.WithBreakers(app.breakers),
	)
	app.health.AddCheck(health.NewCachedCheck(health.RedisCheck("redis", client), readinessCacheTTL))

	adminSrv := admin.New(
		admin.WithLogger(logger),
		admin.WithHealth(app.health),
		admin.WithMetricsHandler(app.metrics.Handler()),
		admin.WithRevoker(app.validator),
		admin.WithCorrelation(correlation.NewGenerator(cfg.Server.CorrelationPrefix, nil)),
	)

	app.gatewayServer = newServer(cfg.Server, cfg.Server.Address,
		observability.TracingMiddleware(app.tracer)(app.orchestrator))
	app.adminServer = newServer(cfg.Server, cfg.Server.AdminAddress, adminSrv.Handler())

	return app, nil
}

func initValidator(
	cfg *config.GatewayConfig,
	client redis.Cmdable,
	metrics *observability.Metrics,
	logger observability.Logger,
) (*auth.Validator, error) {
	policy, err := auth.ParseRevocationPolicy(cfg.Auth.RevocationPolicy)
	if err != nil {
		return nil, err
	}

	authMetrics := auth.NewMetrics(metricsNamespace)
	authMetrics.MustRegister(metrics.Registry())

	revocations := auth.NewRedisRevocationStore(client,
		auth.WithKeyPrefix(cfg.Auth.RevocationPrefix),
		auth.WithCommandTimeout(cfg.Redis.CommandTimeout.Duration()),
		auth.WithStoreBreaker(cfg.RateLimit.Fallback.StoreBreakerFailures,
			cfg.RateLimit.Fallback.StoreBreakerTimeout.Duration()),
	)

	v, err := auth.NewValidator(auth.Config{
		Secret:    cfg.Auth.Secret,
		Algorithm: cfg.Auth.Algorithm,
		ClockSkew: cfg.Auth.ClockSkew.Duration(),
		Policy:    policy,
	}, revocations, auth.WithLogger(logger), auth.WithMetrics(authMetrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create token validator: %w", err)
	}
	return v, nil
}

func redisConfig(c config.RedisConfig) store.Config {
	rc := store.DefaultConfig()
	rc.Address = c.Address
	rc.Password = c.Password
	rc.DB = c.DB
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		rc.MinIdleConns = c.MinIdleConns
	}
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout.Duration()
	}
	if c.ReadTimeout > 0 {
		rc.ReadTimeout = c.ReadTimeout.Duration()
	}
	if c.WriteTimeout > 0 {
		rc.WriteTimeout = c.WriteTimeout.Duration()
	}
	rc.ConnectionRetries = c.ConnectionRetries
	return rc
}

func newServer(s config.ServerConfig, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       s.ReadTimeout.Duration(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.WriteTimeout.Duration(),
		IdleTimeout:       s.IdleTimeout.Duration(),
	}
}
