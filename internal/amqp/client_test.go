package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kakeibo/internal/core"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped at 30s
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.expected, exponentialBackoff(tt.attempt))
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"closed channel", errors.New("Exception (504) Reason: \"channel/connection is not open\""), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"access refused", errors.New("Exception (403) Reason: \"ACCESS_REFUSED\""), false},
		{"deliveries closed", fmt.Errorf("consume: %w", ErrDeliveriesClosed), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsConnectionError(tt.err))
		})
	}
}

func TestExpenseEvents(t *testing.T) {
	e := core.Expense{ID: 7, Date: core.NewDate(2024, 5, 1), Category: "food", Product: "bread", Store: "mart", Amount: 300}

	created := NewExpenseCreatedEvent(e)
	body, err := created.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"date":"2024-05-01"`)

	decoded, err := ExpenseEventFromJSON(body)
	require.NoError(t, err)
	assert.Equal(t, EventExpenseCreated, decoded.Type)
	require.NotNil(t, decoded.Expense)
	assert.Equal(t, e, *decoded.Expense)

	deleted, err := NewExpenseDeletedEvent(7).ToJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(deleted), `"expense"`)
}

func TestExpenseEventFromJSONRejectsGarbage(t *testing.T) {
	for _, body := range []string{`not json`, `{"type":"expense.updated","id":1}`, `{"type":"expense.deleted"}`} {
		_, err := ExpenseEventFromJSON([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestCloseNilClient(t *testing.T) {
	var c *Client
	assert.NoError(t, c.Close())
}

// silentBroker accepts TCP connections and never speaks AMQP.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestConnectStopsAtContextDeadline(t *testing.T) {
	url := silentBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	client, err := Connect(ctx, url, "kakeibo", "expense_events", 1)

	require.Error(t, err)
	assert.Nil(t, client)
	assert.Less(t, time.Since(start), 5*time.Second, "handshake must not outlive the context")
}

func TestNewClientStopsOnCancel(t *testing.T) {
	url := silentBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := NewClient(ctx, url, "kakeibo", "expense_events")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}
