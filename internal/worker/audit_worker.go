// Package worker consumes expense change events published by the API.
package worker

import (
	"context"
	"fmt"
	"sync"

	"kakeibo/internal/amqp"
	applog "kakeibo/internal/log"
)

// AuditWorker writes every expense change event to the log as an audit
// trail. Redelivered events that were already recorded are skipped.
type AuditWorker struct {
	logger *applog.Logger

	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string
	maxSeen int
	stats   Stats
}

// Stats counts handled events.
type Stats struct {
	Created    int
	Deleted    int
	Duplicates int
}

// NewAuditWorker remembers up to maxSeen recent events for deduplication.
func NewAuditWorker(logger *applog.Logger, maxSeen int) *AuditWorker {
	if maxSeen <= 0 {
		maxSeen = 1024
	}
	return &AuditWorker{
		logger:  logger.WithComponent(applog.ComponentWorker),
		seen:    make(map[string]struct{}, maxSeen),
		maxSeen: maxSeen,
	}
}

// HandleEvent records a single expense event from AMQP.
func (w *AuditWorker) HandleEvent(ctx context.Context, ev *amqp.ExpenseEvent) error {
	if ev == nil {
		return fmt.Errorf("nil event")
	}

	switch {
	case ev.Type == amqp.EventExpenseCreated && ev.Expense == nil:
		return fmt.Errorf("created event %d without expense", ev.ID)
	case ev.Type != amqp.EventExpenseCreated && ev.Type != amqp.EventExpenseDeleted:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	key := fmt.Sprintf("%s/%d", ev.Type, ev.ID)
	if !w.remember(key) {
		w.logger.DebugContext(ctx, "Skipping duplicate event",
			"type", ev.Type,
			applog.FieldExpenseID, ev.ID)
		return nil
	}

	switch ev.Type {
	case amqp.EventExpenseCreated:
		e := ev.Expense
		fields := applog.NewFields().
			WithExpense(e.ID, e.Date.String(), e.Category, e.Product, e.Store, e.Amount).
			WithOperation(applog.OpConsume)
		w.logger.InfoContext(ctx, "Audit: expense created",
			append(fields.ToSlice(), "event_time", ev.Timestamp)...)
		w.count(func(s *Stats) { s.Created++ })

	case amqp.EventExpenseDeleted:
		w.logger.InfoContext(ctx, "Audit: expense deleted",
			applog.FieldExpenseID, ev.ID,
			applog.FieldOperation, applog.OpConsume,
			"event_time", ev.Timestamp)
		w.count(func(s *Stats) { s.Deleted++ })
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (w *AuditWorker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// remember reports false when key was already recorded.
func (w *AuditWorker) remember(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[key]; ok {
		w.stats.Duplicates++
		return false
	}
	w.seen[key] = struct{}{}
	w.order = append(w.order, key)
	if len(w.order) > w.maxSeen {
		delete(w.seen, w.order[0])
		w.order = w.order[1:]
	}
	return true
}

func (w *AuditWorker) count(fn func(*Stats)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.stats)
}
