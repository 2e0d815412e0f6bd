// Package cli provides common CLI initialization utilities shared by
// cmd/kakeibo and cmd/kakeibo-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"kakeibo/internal/config"
	applog "kakeibo/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// A missing file is ignored as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(cfg *config.Config, component string) *applog.Logger {
	lc := applog.DefaultConfig()
	lc.Component = component
	if cfg != nil {
		lc.Level = applog.ParseLevel(cfg.LogLevel)
		lc.Format = cfg.LogFormat
	}
	logger := applog.New(lc)
	applog.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(component string) (*config.Config, *applog.Logger) {
	cfg := config.Load()
	logger := SetupLogger(cfg, component)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed",
			applog.FieldErrorType, applog.ErrorTypeConfiguration,
			applog.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. The
// received signal is logged once.
func GracefulShutdown(logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
