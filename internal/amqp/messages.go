package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"kakeibo/internal/core"
)

// Event types double as routing keys on the topic exchange.
const (
	EventExpenseCreated = "expense.created"
	EventExpenseDeleted = "expense.deleted"
)

// ExpenseEvent announces a change to the expenses table. Deleted events carry
// only the id.
type ExpenseEvent struct {
	Type      string        `json:"type"`
	ID        int64         `json:"id"`
	Expense   *core.Expense `json:"expense,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewExpenseCreatedEvent builds the event emitted after an insert.
func NewExpenseCreatedEvent(e core.Expense) *ExpenseEvent {
	return &ExpenseEvent{
		Type:      EventExpenseCreated,
		ID:        e.ID,
		Expense:   &e,
		Timestamp: time.Now().UTC(),
	}
}

// NewExpenseDeletedEvent builds the event emitted after a delete.
func NewExpenseDeletedEvent(id int64) *ExpenseEvent {
	return &ExpenseEvent{
		Type:      EventExpenseDeleted,
		ID:        id,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseEventFromJSON decodes and sanity-checks an event.
func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var msg ExpenseEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case EventExpenseCreated, EventExpenseDeleted:
	default:
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
	if msg.ID <= 0 {
		return nil, fmt.Errorf("event without expense id")
	}
	return &msg, nil
}
