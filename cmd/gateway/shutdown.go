package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/observability"
)

// defaultShutdownTimeout bounds the drain when none is configured.
const defaultShutdownTimeout = 30 * time.Second

// runGateway serves the gateway and admin listeners until a signal arrives
// or either listener fails, then shuts everything down.
func runGateway(ctx context.Context, app *application, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := startConfigWatcher(ctx, app, configPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(app.gatewayServer, "gateway", app.logger) })
	g.Go(func() error { return serve(app.adminServer, "admin", app.logger) })
	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down")
		return shutdown(app, watcher)
	})

	return g.Wait()
}

func serve(srv *http.Server, name string, logger observability.Logger) error {
	logger.Info("starting listener",
		observability.String("listener", name),
		observability.String("address", srv.Addr),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listener failed",
			observability.String("listener", name),
			observability.Error(err),
		)
		return err
	}
	return nil
}

// shutdown drains the listeners first, then releases the tracer and the
// Redis client they depend on.
func shutdown(app *application, watcher *config.Watcher) error {
	timeout := app.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if watcher != nil {
		err = multierr.Append(err, watcher.Stop())
	}

	if shutdownErr := app.gatewayServer.Shutdown(ctx); shutdownErr != nil {
		app.logger.Error("failed to stop gateway gracefully", observability.Error(shutdownErr))
		err = multierr.Append(err, shutdownErr)
	}
	if shutdownErr := app.adminServer.Shutdown(ctx); shutdownErr != nil {
		app.logger.Error("failed to stop admin listener gracefully", observability.Error(shutdownErr))
		err = multierr.Append(err, shutdownErr)
	}

	if tracerErr := app.tracer.Shutdown(ctx); tracerErr != nil {
		app.logger.Error("failed to shutdown tracer", observability.Error(tracerErr))
		err = multierr.Append(err, tracerErr)
	}

	if app.redis != nil {
		err = multierr.Append(err, app.redis.Close())
	}

	app.logger.Info("gateway stopped")
	return err
}
