// Package main is the entry point for the Streamflix API gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	loadDotEnv()
	flags := parseFlags(os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	if configured, err := observability.NewLogger(logConfig(flags, cfg.Logging)); err == nil {
		logger = configured
		observability.SetGlobalLogger(logger)
	} else {
		logger.Warn("invalid logging configuration, keeping defaults", observability.Error(err))
	}

	ctx := context.Background()
	app, err := initApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize gateway", observability.Error(err))
	}

	if err := runGateway(ctx, app, flags.configPath); err != nil {
		logger.Fatal("gateway terminated", observability.Error(err))
	}
}

// loadDotEnv loads a .env file from the working directory when present.
func loadDotEnv() {
	path := getEnvOrDefault("GATEWAY_ENV_FILE", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
	}
}

// parseFlags parses command line flags.
func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("gateway", flag.ExitOnError)
	configPath := fs.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	logLevel := fs.String("log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the configuration file")
	logFormat := fs.String("log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", ""),
		"Log format (json, console); overrides the configuration file")
	showVersion := fs.Bool("version", false, "Show version information")
	_ = fs.Parse(args)

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("streamflix-gateway version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the bootstrap logger. Flags win over defaults; the
// configuration file is read later and only fills what flags left empty.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(logConfig(flags, observability.DefaultLogConfig()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

func logConfig(flags cliFlags, base observability.LogConfig) observability.LogConfig {
	if flags.logLevel != "" {
		base.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		base.Format = flags.logFormat
	}
	return base
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.GatewayConfig {
	logger.Info("starting streamflix gateway",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	applyEnvOverrides(cfg)

	if err := config.ValidateConfig(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Server.Name),
		observability.String("address", cfg.Server.Address),
		observability.String("admin_address", cfg.Server.AdminAddress),
		observability.Int("routes", len(cfg.Routes)),
		observability.Int("rate_limit_classes", len(cfg.RateLimit.Classes)),
		observability.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
	)

	return cfg
}
