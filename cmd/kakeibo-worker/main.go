package main

import (
	"context"
	"errors"
	"os"
	"time"

	"kakeibo/internal/amqp"
	"kakeibo/internal/cli"
	applog "kakeibo/internal/log"
	"kakeibo/internal/worker"
)

// reconnectDelay is the pause before re-dialing after the broker drops us.
const reconnectDelay = 5 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentWorker)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for kakeibo-worker",
			applog.FieldErrorType, applog.ErrorTypeConfiguration)
		os.Exit(1)
	}

	ctx, stop := cli.GracefulShutdown(logger)
	defer stop()

	logger.Info("Starting kakeibo-worker", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)

	audit := worker.NewAuditWorker(logger, 4096)

	for {
		err := consume(ctx, logger, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, audit)
		if ctx.Err() != nil {
			break
		}
		if err != nil && !amqp.IsConnectionError(err) {
			logger.Error("Message consumption failed", applog.FieldOperation, applog.OpConsume, applog.FieldError, err)
			os.Exit(1)
		}
		logger.Warn("Lost broker connection, reconnecting",
			applog.FieldError, err,
			"delay", reconnectDelay.String())

		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
		}
		if ctx.Err() != nil {
			break
		}
	}

	stats := audit.Stats()
	logger.Info("Worker stopped gracefully",
		"created", stats.Created,
		"deleted", stats.Deleted,
		"duplicates", stats.Duplicates)
}

// consume runs one broker session until ctx ends or the link drops.
func consume(ctx context.Context, logger *applog.Logger, url, exchange, queue string, audit *worker.AuditWorker) error {
	client, err := amqp.Connect(ctx, url, exchange, queue, 0)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close AMQP client", applog.FieldError, err)
		}
	}()

	err = client.ConsumeExpenseEvents(ctx, audit.HandleEvent)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
