// Package config defines the gateway configuration model, loads it from YAML
// with ${VAR:-default} environment substitution, validates it and watches
// the file for hot reload.
package config

import (
	"time"

	"github.com/streamflix/gateway/internal/observability"
)

// GatewayConfig is the root of the configuration file.
type GatewayConfig struct {
	Server         ServerConfig               `yaml:"server"`
	Logging        observability.LogConfig    `yaml:"logging"`
	Tracing        observability.TracerConfig `yaml:"tracing"`
	Redis          RedisConfig                `yaml:"redis"`
	Auth           AuthConfig                 `yaml:"auth"`
	RateLimit      RateLimitConfig            `yaml:"rateLimit"`
	CircuitBreaker CircuitBreakerConfig       `yaml:"circuitBreaker"`
	Canary         CanaryConfig               `yaml:"canary"`
	Routes         []RouteConfig              `yaml:"routes"`
}

// ServerConfig configures the public and admin listeners.
type ServerConfig struct {
	Name              string   `yaml:"name"`
	Address           string   `yaml:"address"`
	AdminAddress      string   `yaml:"adminAddress"`
	ReadTimeout       Duration `yaml:"readTimeout"`
	WriteTimeout      Duration `yaml:"writeTimeout"`
	IdleTimeout       Duration `yaml:"idleTimeout"`
	ShutdownTimeout   Duration `yaml:"shutdownTimeout"`
	SlowRequest       Duration `yaml:"slowRequest"`
	CorrelationPrefix string   `yaml:"correlationPrefix"`
	APIVersion        string   `yaml:"apiVersion"`
}

// RedisConfig configures the shared store used for rate limiting and token
// revocation.
type RedisConfig struct {
	Address      string   `yaml:"address"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	PoolSize     int      `yaml:"poolSize"`
	MinIdleConns int      `yaml:"minIdleConns"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
	// CommandTimeout bounds every individual store call.
	CommandTimeout    Duration `yaml:"commandTimeout"`
	ConnectionRetries int      `yaml:"connectionRetries"`
}

// Revocation policies.
const (
	RevocationFailOpen   = "fail-open"
	RevocationFailClosed = "fail-closed"
)

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Secret           string   `yaml:"secret"`
	Algorithm        string   `yaml:"algorithm"`
	ClockSkew        Duration `yaml:"clockSkew"`
	RevocationPrefix string   `yaml:"revocationPrefix"`
	RevocationPolicy string   `yaml:"revocationPolicy"`
	PublicPaths      []string `yaml:"publicPaths"`
}

// RateLimitClass is a named token bucket parameter set.
type RateLimitClass struct {
	ReplenishRate   int `yaml:"replenishRate"`
	BurstCapacity   int `yaml:"burstCapacity"`
	RequestedTokens int `yaml:"requestedTokens"`
}

// RateLimitConfig configures distributed admission control.
type RateLimitConfig struct {
	Enabled      bool                      `yaml:"enabled"`
	KeyPrefix    string                    `yaml:"keyPrefix"`
	DefaultClass string                    `yaml:"defaultClass"`
	Classes      map[string]RateLimitClass `yaml:"classes"`
	Fallback     RateLimitFallbackConfig   `yaml:"fallback"`
}

// RateLimitFallbackConfig configures the per-instance limiter used while the
// shared store is unreachable.
type RateLimitFallbackConfig struct {
	Enabled bool     `yaml:"enabled"`
	MaxKeys int      `yaml:"maxKeys"`
	TTL     Duration `yaml:"ttl"`
	// StoreBreakerTimeout is how long the store breaker stays open.
	StoreBreakerTimeout Duration `yaml:"storeBreakerTimeout"`
	// StoreBreakerFailures is the consecutive failure count that opens it.
	StoreBreakerFailures int `yaml:"storeBreakerFailures"`
}

// BreakerSettings are the thresholds of one circuit breaker. Zero values
// inherit from the defaults block.
type BreakerSettings struct {
	FailureRateThreshold          float64  `yaml:"failureRateThreshold"`
	SlowCallRateThreshold         float64  `yaml:"slowCallRateThreshold"`
	SlowCallDuration              Duration `yaml:"slowCallDuration"`
	SlidingWindowSize             int      `yaml:"slidingWindowSize"`
	MinimumNumberOfCalls          int      `yaml:"minimumNumberOfCalls"`
	WaitDurationInOpenState       Duration `yaml:"waitDurationInOpenState"`
	PermittedCallsInHalfOpenState int      `yaml:"permittedCallsInHalfOpenState"`
}

// CircuitBreakerConfig holds the defaults and per-backend overrides.
type CircuitBreakerConfig struct {
	Defaults  BreakerSettings            `yaml:"defaults"`
	Instances map[string]BreakerSettings `yaml:"instances"`
}

// CanaryConfig configures the canary decision inputs.
type CanaryConfig struct {
	Header string `yaml:"header"`
	Cookie string `yaml:"cookie"`
}

// RouteConfig describes one upstream route and its policies.
type RouteConfig struct {
	Name string `yaml:"name"`
	// Path is an exact path or a prefix ending in "/**".
	Path string `yaml:"path"`
	// Regex, when set, replaces Path matching.
	Regex    string   `yaml:"regex"`
	Methods  []string `yaml:"methods"`
	Priority int      `yaml:"priority"`

	Backend     string   `yaml:"backend"`
	URI         string   `yaml:"uri"`
	StripPrefix int      `yaml:"stripPrefix"`
	Timeout     Duration `yaml:"timeout"`

	CanaryURI        string `yaml:"canaryUri"`
	CanaryPercentage int    `yaml:"canaryPercentage"`

	RateLimit      string   `yaml:"rateLimit"`
	RequireProfile bool     `yaml:"requireProfile"`
	RequiredRoles  []string `yaml:"requiredRoles"`

	// Fallback names the degraded responder used while the breaker is open.
	Fallback string `yaml:"fallback"`
}

// BackendName returns the breaker name for the route.
func (r RouteConfig) BackendName() string {
	if r.Backend != "" {
		return r.Backend
	}
	return r.Name
}

// DefaultConfig returns a configuration populated with gateway defaults.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Name:              "streamflix-gateway",
			Address:           ":8080",
			AdminAddress:      ":9090",
			ReadTimeout:       Duration(30 * time.Second),
			WriteTimeout:      Duration(60 * time.Second),
			IdleTimeout:       Duration(120 * time.Second),
			ShutdownTimeout:   Duration(30 * time.Second),
			SlowRequest:       Duration(3 * time.Second),
			CorrelationPrefix: "stfx",
			APIVersion:        "v1",
		},
		Logging: observability.DefaultLogConfig(),
		Tracing: observability.TracerConfig{
			ServiceName:  "streamflix-gateway",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Redis: RedisConfig{
			Address:           "localhost:6379",
			PoolSize:          50,
			MinIdleConns:      5,
			DialTimeout:       Duration(2 * time.Second),
			ReadTimeout:       Duration(2 * time.Second),
			WriteTimeout:      Duration(2 * time.Second),
			CommandTimeout:    Duration(2 * time.Second),
			ConnectionRetries: 3,
		},
		Auth: AuthConfig{
			Algorithm:        "HS256",
			ClockSkew:        Duration(60 * time.Second),
			RevocationPrefix: "jwt:blacklist:",
			RevocationPolicy: RevocationFailOpen,
			PublicPaths: []string{
				"/api/v1/auth/login",
				"/api/v1/auth/register",
				"/api/v1/auth/refresh",
				"/api/v1/auth/forgot-password",
				"/api/v1/health",
				"/actuator/health",
				"/actuator/info",
				"/swagger-ui/**",
				"/v3/api-docs/**",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			KeyPrefix:    "ratelimit:",
			DefaultClass: "default",
			Classes: map[string]RateLimitClass{
				"default":  {ReplenishRate: 100, BurstCapacity: 200, RequestedTokens: 1},
				"auth":     {ReplenishRate: 5, BurstCapacity: 10, RequestedTokens: 1},
				"content":  {ReplenishRate: 200, BurstCapacity: 400, RequestedTokens: 1},
				"search":   {ReplenishRate: 50, BurstCapacity: 100, RequestedTokens: 1},
				"playback": {ReplenishRate: 300, BurstCapacity: 500, RequestedTokens: 1},
			},
			Fallback: RateLimitFallbackConfig{
				Enabled:              true,
				MaxKeys:              10000,
				TTL:                  Duration(10 * time.Minute),
				StoreBreakerTimeout:  Duration(5 * time.Second),
				StoreBreakerFailures: 5,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Defaults: BreakerSettings{
				FailureRateThreshold:          50,
				SlowCallRateThreshold:         100,
				SlowCallDuration:              Duration(60 * time.Second),
				SlidingWindowSize:             10,
				MinimumNumberOfCalls:          5,
				WaitDurationInOpenState:       Duration(30 * time.Second),
				PermittedCallsInHalfOpenState: 3,
			},
		},
		Canary: CanaryConfig{
			Header: "X-Canary",
			Cookie: "streamflix-canary",
		},
	}
}

// BreakerFor returns the effective settings for a backend: the defaults
// overlaid with any non-zero per-instance values.
func (c CircuitBreakerConfig) BreakerFor(name string) BreakerSettings {
	s := c.Defaults
	o, ok := c.Instances[name]
	if !ok {
		return s
	}
	if o.FailureRateThreshold > 0 {
		s.FailureRateThreshold = o.FailureRateThreshold
	}
	if o.SlowCallRateThreshold > 0 {
		s.SlowCallRateThreshold = o.SlowCallRateThreshold
	}
	if o.SlowCallDuration > 0 {
		s.SlowCallDuration = o.SlowCallDuration
	}
	if o.SlidingWindowSize > 0 {
		s.SlidingWindowSize = o.SlidingWindowSize
	}
	if o.MinimumNumberOfCalls > 0 {
		s.MinimumNumberOfCalls = o.MinimumNumberOfCalls
	}
	if o.WaitDurationInOpenState > 0 {
		s.WaitDurationInOpenState = o.WaitDurationInOpenState
	}
	if o.PermittedCallsInHalfOpenState > 0 {
		s.PermittedCallsInHalfOpenState = o.PermittedCallsInHalfOpenState
	}
	return s
}
