package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/streamflix/gateway/internal/config"
)

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a boolean or a default.
// Accepts "true", "1", "yes" (case-insensitive) as true values.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvDuration returns the environment variable parsed as a duration or a
// default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// applyEnvOverrides applies GATEWAY_* variables on top of the file. ENV
// values take priority over file-based configuration.
func applyEnvOverrides(cfg *config.GatewayConfig) {
	cfg.Server.Address = getEnvOrDefault("GATEWAY_ADDRESS", cfg.Server.Address)
	cfg.Server.AdminAddress = getEnvOrDefault("GATEWAY_ADMIN_ADDRESS", cfg.Server.AdminAddress)

	cfg.Redis.Address = getEnvOrDefault("GATEWAY_REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("GATEWAY_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("GATEWAY_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.CommandTimeout = config.Duration(getEnvDuration("GATEWAY_REDIS_COMMAND_TIMEOUT",
		cfg.Redis.CommandTimeout.Duration()))

	cfg.Auth.Secret = getEnvOrDefault("GATEWAY_JWT_SECRET", cfg.Auth.Secret)
	cfg.Auth.RevocationPolicy = getEnvOrDefault("GATEWAY_REVOCATION_POLICY", cfg.Auth.RevocationPolicy)

	cfg.RateLimit.Enabled = getEnvBool("GATEWAY_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)

	cfg.Tracing.Enabled = getEnvBool("GATEWAY_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.OTLPEndpoint = getEnvOrDefault("GATEWAY_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
}
