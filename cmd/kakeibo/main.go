package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"kakeibo/internal/backend"
	"kakeibo/internal/cli"
	apphttp "kakeibo/internal/http"
	applog "kakeibo/internal/log"
	"kakeibo/internal/metrics"
)

// startupPingTimeout bounds the background connectivity check.
const startupPingTimeout = 10 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentApp)

	m := metrics.New()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := cli.GracefulShutdown(logger)
	defer stop()

	result, err := backend.NewFactory(logger, m).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "driver", cfg.DBDriver)
		os.Exit(1)
	}
	m.RegisterDB(result.Gateway.DB(), cfg.DBDriver)

	// The outcome is only logged; the server listens either way.
	go func() {
		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		defer cancel()
		if err := result.Service.CheckConnectivity(pingCtx); err != nil {
			logger.Error("Database connectivity check failed",
				append(result.Gateway.Target(),
					applog.FieldOperation, applog.OpStartup,
					applog.FieldErrorType, applog.ErrorTypeDatabase,
					applog.FieldError, err)...)
			return
		}
		logger.Info("Database connection established", result.Gateway.Target()...)
	}()

	srv := apphttp.NewServer(cfg.Addr(), result.Service, apphttp.Options{
		Logger:             logger,
		Metrics:            m,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting kakeibo server", "addr", cfg.Addr(), "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldOperation, applog.OpShutdown, applog.FieldError, err)
		}
		return nil
	})

	serveErr := g.Wait()

	// The pool is closed only after in-flight requests have drained.
	if err := result.Cleanup(); err != nil {
		logger.Error("Failed to close backend", applog.FieldOperation, applog.OpShutdown, applog.FieldError, err)
	}

	if serveErr != nil {
		logger.Error("Server error", applog.FieldError, serveErr, "addr", cfg.Addr())
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
