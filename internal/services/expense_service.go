package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"kakeibo/internal/core"
)

// ErrExpenseNotFound is returned when a delete matches no row.
var ErrExpenseNotFound = errors.New("expense not found")

// ExpenseStore is the persistence gateway as seen by the service.
type ExpenseStore interface {
	ListExpenses(ctx context.Context) ([]core.Expense, error)
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	DeleteExpense(ctx context.Context, id int64) (int64, error)
	Ping(ctx context.Context) error
}

// EventPublisher announces expense changes to other systems.
type EventPublisher interface {
	PublishExpenseCreated(ctx context.Context, e core.Expense) error
	PublishExpenseDeleted(ctx context.Context, id int64) error
}

// ExpenseService orchestrates expense operations across storage and AMQP
type ExpenseService struct {
	storage ExpenseStore

	mu        sync.RWMutex
	publisher EventPublisher
}

// NewExpenseService wires a store and an optional publisher. A nil publisher
// disables change events.
func NewExpenseService(storage ExpenseStore, publisher EventPublisher) *ExpenseService {
	return &ExpenseService{
		storage:   storage,
		publisher: publisher,
	}
}

// SetPublisher swaps in a publisher once a broker connection is ready.
func (s *ExpenseService) SetPublisher(p EventPublisher) {
	s.mu.Lock()
	s.publisher = p
	s.mu.Unlock()
}

func (s *ExpenseService) eventPublisher() EventPublisher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publisher
}

// ListExpenses returns every expense, newest date first.
func (s *ExpenseService) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	expenses, err := s.storage.ListExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

// CreateExpense validates and saves an expense, then publishes a change event.
func (s *ExpenseService) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	created, err := s.storage.CreateExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	if p := s.eventPublisher(); p != nil {
		if err := p.PublishExpenseCreated(ctx, created); err != nil {
			slog.ErrorContext(ctx, "Failed to publish expense created event",
				"id", created.ID, "error", err)
			// Don't fail the request - expense is saved
		}
	}

	return created, nil
}

// DeleteExpense removes an expense by id.
func (s *ExpenseService) DeleteExpense(ctx context.Context, id int64) error {
	affected, err := s.storage.DeleteExpense(ctx, id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if affected == 0 {
		return ErrExpenseNotFound
	}

	if p := s.eventPublisher(); p != nil {
		if err := p.PublishExpenseDeleted(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to publish expense deleted event",
				"id", id, "error", err)
		}
	}

	return nil
}

// CheckConnectivity reports whether the storage engine is reachable.
func (s *ExpenseService) CheckConnectivity(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// Close closes both storage and AMQP connections
func (s *ExpenseService) Close() error {
	var errs []error

	if c, ok := s.eventPublisher().(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if c, ok := s.storage.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close expense service: %w", errors.Join(errs...))
	}

	return nil
}
