package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/multierr"

	"github.com/streamflix/gateway/internal/util"
)

// ValidateConfig checks cfg and returns every problem found, combined with
// multierr. Each element is a *util.ConfigError.
func ValidateConfig(cfg *GatewayConfig) error {
	if cfg == nil {
		return util.NewConfigError("", "configuration is nil")
	}

	v := &validator{}
	v.server(&cfg.Server)
	v.redis(&cfg.Redis)
	v.auth(&cfg.Auth)
	v.rateLimit(&cfg.RateLimit)
	v.breakers(&cfg.CircuitBreaker)
	v.routes(cfg.Routes, &cfg.RateLimit)
	return v.err
}

type validator struct {
	err error
}

func (v *validator) add(field, format string, args ...interface{}) {
	v.err = multierr.Append(v.err, util.NewConfigError(field, fmt.Sprintf(format, args...)))
}

func (v *validator) server(s *ServerConfig) {
	if s.Address == "" {
		v.add("server.address", "address is required")
	}
	if s.AdminAddress != "" && s.AdminAddress == s.Address {
		v.add("server.adminAddress", "admin address must differ from %s", s.Address)
	}
	if s.ShutdownTimeout < 0 {
		v.add("server.shutdownTimeout", "must not be negative")
	}
	if s.CorrelationPrefix == "" {
		v.add("server.correlationPrefix", "prefix is required")
	}
}

func (v *validator) redis(r *RedisConfig) {
	if r.Address == "" {
		v.add("redis.address", "address is required")
	}
	if r.DB < 0 {
		v.add("redis.db", "must not be negative")
	}
	if r.CommandTimeout <= 0 {
		v.add("redis.commandTimeout", "must be positive")
	}
}

func (v *validator) auth(a *AuthConfig) {
	if a.Secret == "" {
		v.add("auth.secret", "signing secret is required")
	}
	switch a.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		v.add("auth.algorithm", "unsupported algorithm %q", a.Algorithm)
	}
	if a.ClockSkew < 0 {
		v.add("auth.clockSkew", "must not be negative")
	}
	switch a.RevocationPolicy {
	case RevocationFailOpen, RevocationFailClosed:
	default:
		v.add("auth.revocationPolicy", "must be %q or %q", RevocationFailOpen, RevocationFailClosed)
	}
	for i, p := range a.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			v.add(fmt.Sprintf("auth.publicPaths[%d]", i), "path %q must start with /", p)
		}
	}
}

func (v *validator) rateLimit(rl *RateLimitConfig) {
	if !rl.Enabled {
		return
	}
	if _, ok := rl.Classes[rl.DefaultClass]; !ok {
		v.add("rateLimit.defaultClass", "class %q is not defined", rl.DefaultClass)
	}
	for name, c := range rl.Classes {
		field := "rateLimit.classes." + name
		if c.ReplenishRate <= 0 {
			v.add(field+".replenishRate", "must be positive")
		}
		if c.BurstCapacity < c.ReplenishRate {
			v.add(field+".burstCapacity", "must be at least replenishRate (%d)", c.ReplenishRate)
		}
		if c.RequestedTokens < 0 || c.RequestedTokens > c.BurstCapacity {
			v.add(field+".requestedTokens", "must be between 0 and burstCapacity")
		}
	}
	if rl.Fallback.Enabled && rl.Fallback.MaxKeys <= 0 {
		v.add("rateLimit.fallback.maxKeys", "must be positive")
	}
}

func (v *validator) breakers(cb *CircuitBreakerConfig) {
	v.breaker("circuitBreaker.defaults", cb.Defaults)
	for name := range cb.Instances {
		v.breaker("circuitBreaker.instances."+name, cb.BreakerFor(name))
	}
}

func (v *validator) breaker(field string, s BreakerSettings) {
	if s.FailureRateThreshold <= 0 || s.FailureRateThreshold > 100 {
		v.add(field+".failureRateThreshold", "must be in (0, 100]")
	}
	if s.SlowCallRateThreshold <= 0 || s.SlowCallRateThreshold > 100 {
		v.add(field+".slowCallRateThreshold", "must be in (0, 100]")
	}
	if s.SlidingWindowSize <= 0 {
		v.add(field+".slidingWindowSize", "must be positive")
	}
	if s.MinimumNumberOfCalls <= 0 {
		v.add(field+".minimumNumberOfCalls", "must be positive")
	}
	if s.WaitDurationInOpenState <= 0 {
		v.add(field+".waitDurationInOpenState", "must be positive")
	}
	if s.PermittedCallsInHalfOpenState <= 0 {
		v.add(field+".permittedCallsInHalfOpenState", "must be positive")
	}
}

func (v *validator) routes(routes []RouteConfig, rl *RateLimitConfig) {
	seen := make(map[string]bool, len(routes))
	for i := range routes {
		r := &routes[i]
		field := fmt.Sprintf("routes[%d]", i)

		if r.Name == "" {
			v.add(field+".name", "name is required")
		} else if seen[r.Name] {
			v.add(field+".name", "duplicate route name %q", r.Name)
		}
		seen[r.Name] = true

		switch {
		case r.Path == "" && r.Regex == "":
			v.add(field+".path", "path or regex is required")
		case r.Regex != "":
			if _, err := regexp.Compile(r.Regex); err != nil {
				v.add(field+".regex", "invalid regex: %v", err)
			}
		case !strings.HasPrefix(r.Path, "/"):
			v.add(field+".path", "path %q must start with /", r.Path)
		}

		v.upstream(field+".uri", r.URI, true)
		v.upstream(field+".canaryUri", r.CanaryURI, false)

		if r.CanaryPercentage < 0 || r.CanaryPercentage > 100 {
			v.add(field+".canaryPercentage", "must be between 0 and 100")
		}
		if r.CanaryPercentage > 0 && r.CanaryURI == "" {
			v.add(field+".canaryUri", "required when canaryPercentage is set")
		}
		if r.RateLimit != "" && rl.Enabled {
			if _, ok := rl.Classes[r.RateLimit]; !ok {
				v.add(field+".rateLimit", "class %q is not defined", r.RateLimit)
			}
		}
		if r.StripPrefix < 0 {
			v.add(field+".stripPrefix", "must not be negative")
		}
		if r.Timeout < 0 {
			v.add(field+".timeout", "must not be negative")
		}
	}
}

func (v *validator) upstream(field, raw string, required bool) {
	if raw == "" {
		if required {
			v.add(field, "upstream URI is required")
		}
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.add(field, "invalid URI: %v", err)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.add(field, "scheme must be http or https")
	}
	if u.Host == "" {
		v.add(field, "host is required")
	}
}
