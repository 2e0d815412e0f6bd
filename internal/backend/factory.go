package backend

import (
	"context"
	"fmt"

	"kakeibo/internal/amqp"
	applog "kakeibo/internal/log"
	"kakeibo/internal/services"
	"kakeibo/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger   *applog.Logger
	recorder storage.SaturationRecorder
}

// NewFactory creates a new backend factory. recorder may be nil.
func NewFactory(logger *applog.Logger, recorder storage.SaturationRecorder) Factory {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &DefaultFactory{
		logger:   logger.WithComponent(applog.ComponentBackend),
		recorder: recorder,
	}
}

// CreateBackend implements Factory.CreateBackend. The database is not dialed
// here; an unreachable engine surfaces per request.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var opts []storage.Option
	if f.recorder != nil {
		opts = append(opts, storage.WithSaturationRecorder(f.recorder))
	}
	gateway, err := storage.Open(config.Pool, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s pool: %w", config.Type, err)
	}

	if config.Pool.AutoMigrate {
		if err := gateway.Migrate(); err != nil {
			f.logger.Error("Failed to bootstrap expenses table, continuing",
				append(gateway.Target(),
					applog.FieldOperation, applog.OpMigrate,
					applog.FieldError, err)...)
		} else {
			f.logger.Info("Expenses table is up to date", gateway.Target()...)
		}
	}

	expenseService := services.NewExpenseService(gateway, nil)
	cleanup := expenseService.Close

	// The broker is dialed in the background; change events start once the
	// publisher is installed.
	if config.AMQPURL != "" {
		stop := f.connectPublisher(ctx, config, expenseService)
		cleanup = func() error {
			stop()
			return expenseService.Close()
		}
	}

	f.logger.Info("Initialized backend",
		append(gateway.Target(),
			"max_open_conns", config.Pool.MaxOpenConns,
			"max_waiters", config.Pool.MaxWaiters,
			"acquire_timeout", config.Pool.AcquireTimeout.String(),
			"amqp_enabled", config.AMQPURL != "")...)

	return &BackendResult{
		Service: expenseService,
		Gateway: gateway,
		Cleanup: cleanup,
	}, nil
}

// connectPublisher dials the broker on its own goroutine and installs the
// client on svc when it is ready. The returned func cancels a pending dial and
// waits for the goroutine to exit.
func (f *DefaultFactory) connectPublisher(ctx context.Context, config Config, svc *services.ExpenseService) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		dialCtx := ctx
		if config.AMQPConnectTimeout > 0 {
			var cancelDial context.CancelFunc
			dialCtx, cancelDial = context.WithTimeout(ctx, config.AMQPConnectTimeout)
			defer cancelDial()
		}

		client, err := amqp.Connect(dialCtx, config.AMQPURL, config.AMQPExchange, config.AMQPQueue, config.AMQPConnectAttempts)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without change events",
				applog.FieldError, err)
			return
		}
		if ctx.Err() != nil {
			_ = client.Close()
			return
		}

		svc.SetPublisher(client)
		f.logger.Info("Initialized AMQP client",
			"exchange", config.AMQPExchange,
			"queue", config.AMQPQueue)
	}()

	return func() {
		cancel()
		<-done
	}
}
