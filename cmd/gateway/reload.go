package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"reflect"

	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/observability"
)

// Reload results recorded in gateway_config_reloads_total.
const (
	reloadSuccess  = "success"
	reloadError    = "error"
	reloadRejected = "rejected"
)

// startConfigWatcher starts the configuration watcher. A watcher that
// cannot start is logged and the gateway keeps its startup configuration.
func startConfigWatcher(ctx context.Context, app *application, configPath string) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.GatewayConfig) {
		app.logger.Info("configuration changed, reloading")
		reloadComponents(app, newCfg)
	},
		config.WithLogger(app.logger),
		config.WithErrorCallback(func(error) {
			app.metrics.RecordConfigReload(reloadRejected)
		}),
	)
	if err != nil {
		app.logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		app.logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}
	return watcher
}

// reloadComponents applies a validated configuration. Routes, public paths,
// rate limit classes and canary percentages swap atomically; breaker
// thresholds apply to breakers created afterwards. Listener, Redis and
// signing key settings need a restart.
func reloadComponents(app *application, newCfg *config.GatewayConfig) {
	applyEnvOverrides(newCfg)

	if err := app.orchestrator.Reload(newCfg); err != nil {
		app.logger.Error("failed to reload pipeline, keeping previous configuration", observability.Error(err))
		app.metrics.RecordConfigReload(reloadError)
		return
	}
	app.breakers.UpdateConfig(newCfg.CircuitBreaker)

	if configSectionChanged(app.config.Server, newCfg.Server) {
		app.logger.Warn("server configuration has changed but listeners are NOT hot-reloaded; " +
			"restart the gateway to apply server changes")
	}
	if configSectionChanged(app.config.Redis, newCfg.Redis) {
		app.logger.Warn("redis configuration has changed but the client is NOT hot-reloaded; " +
			"restart the gateway to apply redis changes")
	}
	if authKeyChanged(app.config.Auth, newCfg.Auth) {
		app.logger.Warn("token signing configuration has changed but the validator is NOT hot-reloaded; " +
			"restart the gateway to apply it")
	}

	app.config = newCfg
	app.metrics.RecordConfigReload(reloadSuccess)
	app.logger.Info("all components reloaded successfully",
		observability.Int("routes", len(newCfg.Routes)),
	)
}

func authKeyChanged(oldCfg, newCfg config.AuthConfig) bool {
	return oldCfg.Secret != newCfg.Secret ||
		oldCfg.Algorithm != newCfg.Algorithm ||
		oldCfg.ClockSkew != newCfg.ClockSkew ||
		oldCfg.RevocationPolicy != newCfg.RevocationPolicy ||
		oldCfg.RevocationPrefix != newCfg.RevocationPrefix
}

// configSectionHash computes a SHA-256 hash of a configuration section.
func configSectionHash(v interface{}) ([sha256.Size]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(data), true
}

// configSectionChanged compares two configuration sections by hash, falling
// back to reflect.DeepEqual when hashing is not possible.
func configSectionChanged(oldSection, newSection interface{}) bool {
	oldHash, oldOK := configSectionHash(oldSection)
	newHash, newOK := configSectionHash(newSection)
	if oldOK && newOK {
		return oldHash != newHash
	}
	return !reflect.DeepEqual(oldSection, newSection)
}
