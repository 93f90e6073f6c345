package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/streamflix/gateway/internal/util"
)

func validConfig() *GatewayConfig {
	cfg := DefaultConfig()
	cfg.Auth.Secret = "test-secret"
	cfg.Routes = []RouteConfig{{
		Name: "auth",
		Path: "/api/v1/auth/**",
		URI:  "http://auth-service:8080",
	}}
	return cfg
}

func TestValidateConfig_Valid(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()
	assert.ErrorIs(t, ValidateConfig(nil), util.ErrConfigInvalid)
}

func TestValidateConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*GatewayConfig)
		field  string
	}{
		{
			name:   "missing secret",
			mutate: func(c *GatewayConfig) { c.Auth.Secret = "" },
			field:  "auth.secret",
		},
		{
			name:   "unsupported algorithm",
			mutate: func(c *GatewayConfig) { c.Auth.Algorithm = "RS256" },
			field:  "auth.algorithm",
		},
		{
			name:   "unknown revocation policy",
			mutate: func(c *GatewayConfig) { c.Auth.RevocationPolicy = "maybe" },
			field:  "auth.revocationPolicy",
		},
		{
			name:   "admin address clash",
			mutate: func(c *GatewayConfig) { c.Server.AdminAddress = c.Server.Address },
			field:  "server.adminAddress",
		},
		{
			name:   "undefined default class",
			mutate: func(c *GatewayConfig) { c.RateLimit.DefaultClass = "nope" },
			field:  "rateLimit.defaultClass",
		},
		{
			name: "burst below rate",
			mutate: func(c *GatewayConfig) {
				c.RateLimit.Classes["auth"] = RateLimitClass{ReplenishRate: 10, BurstCapacity: 5}
			},
			field: "rateLimit.classes.auth.burstCapacity",
		},
		{
			name:   "failure threshold out of range",
			mutate: func(c *GatewayConfig) { c.CircuitBreaker.Defaults.FailureRateThreshold = 150 },
			field:  "circuitBreaker.defaults.failureRateThreshold",
		},
		{
			name:   "route without uri",
			mutate: func(c *GatewayConfig) { c.Routes[0].URI = "" },
			field:  "routes[0].uri",
		},
		{
			name:   "route with bad scheme",
			mutate: func(c *GatewayConfig) { c.Routes[0].URI = "ftp://auth" },
			field:  "routes[0].uri",
		},
		{
			name:   "canary percentage without uri",
			mutate: func(c *GatewayConfig) { c.Routes[0].CanaryPercentage = 20 },
			field:  "routes[0].canaryUri",
		},
		{
			name:   "canary percentage above 100",
			mutate: func(c *GatewayConfig) { c.Routes[0].CanaryPercentage = 101 },
			field:  "routes[0].canaryPercentage",
		},
		{
			name:   "unknown rate limit class",
			mutate: func(c *GatewayConfig) { c.Routes[0].RateLimit = "vip" },
			field:  "routes[0].rateLimit",
		},
		{
			name:   "bad regex",
			mutate: func(c *GatewayConfig) { c.Routes[0].Regex = "([" },
			field:  "routes[0].regex",
		},
		{
			name: "duplicate route",
			mutate: func(c *GatewayConfig) {
				c.Routes = append(c.Routes, c.Routes[0])
			},
			field: "routes[1].name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, util.ErrConfigInvalid)

			var fields []string
			for _, e := range multierr.Errors(err) {
				var ce *util.ConfigError
				require.ErrorAs(t, e, &ce)
				fields = append(fields, ce.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidateConfig_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Auth.Secret = ""
	cfg.Redis.Address = ""
	cfg.Routes[0].Path = ""

	assert.Len(t, multierr.Errors(ValidateConfig(cfg)), 3)
}

func TestBreakerFor(t *testing.T) {
	t.Parallel()

	cb := DefaultConfig().CircuitBreaker
	cb.Instances = map[string]BreakerSettings{
		"playback": {FailureRateThreshold: 30, SlidingWindowSize: 20},
	}

	got := cb.BreakerFor("playback")
	assert.Equal(t, 30.0, got.FailureRateThreshold)
	assert.Equal(t, 20, got.SlidingWindowSize)
	assert.Equal(t, cb.Defaults.MinimumNumberOfCalls, got.MinimumNumberOfCalls)

	assert.Equal(t, cb.Defaults, cb.BreakerFor("unknown"))
}
