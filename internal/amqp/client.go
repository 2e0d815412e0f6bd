package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"kakeibo/internal/core"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

// handshakeTimeout bounds the AMQP handshake when ctx carries no deadline.
const handshakeTimeout = 30 * time.Second

// NewClient dials the broker and declares the exchange and queue. Both the
// TCP dial and the AMQP handshake stop when ctx is done.
func NewClient(ctx context.Context, url, exchangeName, queueName string) (*Client, error) {
	conn, err := dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func dial(ctx context.Context, url string) (*amqp091.Connection, error) {
	var (
		mu  sync.Mutex
		raw net.Conn
	)
	cfg := amqp091.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			var d net.Dialer
			c, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			deadline, ok := ctx.Deadline()
			if !ok {
				deadline = time.Now().Add(handshakeTimeout)
			}
			// amqp091 clears the deadline once the connection is open.
			if err := c.SetDeadline(deadline); err != nil {
				c.Close()
				return nil, err
			}
			mu.Lock()
			defer mu.Unlock()
			if err := ctx.Err(); err != nil {
				c.Close()
				return nil, err
			}
			raw = c
			return c, nil
		},
	}

	// Cancellation during the handshake unblocks the pending read.
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if raw != nil {
			_ = raw.SetDeadline(time.Now())
		}
	})

	conn, err := amqp091.DialConfig(url, cfg)
	if !stop() {
		if err == nil {
			conn.Close()
		}
		return nil, ctx.Err()
	}
	return conn, err
}

func (c *Client) setup() error {
	// Declare exchange
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Declare queue
	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Bind queue to every expense event
	err = c.channel.QueueBind(
		c.queueName,    // queue name
		"expense.*",    // routing key
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishExpenseCreated publishes an expense.created event
func (c *Client) PublishExpenseCreated(ctx context.Context, e core.Expense) error {
	return c.publish(ctx, NewExpenseCreatedEvent(e))
}

// PublishExpenseDeleted publishes an expense.deleted event
func (c *Client) PublishExpenseDeleted(ctx context.Context, id int64) error {
	return c.publish(ctx, NewExpenseDeletedEvent(id))
}

func (c *Client) publish(ctx context.Context, msg *ExpenseEvent) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		msg.Type,       // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    msg.Timestamp,
			Type:         msg.Type,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	slog.DebugContext(ctx, "Published expense event",
		"type", msg.Type,
		"id", msg.ID,
		"exchange", c.exchangeName)

	return nil
}

// ConsumeExpenseEvents consumes expense events until ctx is cancelled
func (c *Client) ConsumeExpenseEvents(ctx context.Context, handler func(context.Context, *ExpenseEvent) error) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming expense events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}

			msg, err := ExpenseEventFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			if err := handler(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "Failed to handle message",
					"error", err,
					"type", msg.Type,
					"id", msg.ID)
				delivery.Nack(false, !delivery.Redelivered) // requeue once
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ErrDeliveriesClosed is returned by ConsumeExpenseEvents when the broker
// closes the delivery stream.
var ErrDeliveriesClosed = errors.New("amqp: delivery channel closed")

// IsConnectionError reports whether err looks like a dropped broker link.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeliveriesClosed) || errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "channel/connection is not open", "eof", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// exponentialBackoff returns the reconnect delay for an attempt, capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return 30 * time.Second
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Connect dials the broker, retrying connection failures with exponential
// backoff. maxAttempts <= 0 retries until ctx is done.
func Connect(ctx context.Context, url, exchangeName, queueName string, maxAttempts int) (*Client, error) {
	for attempt := 0; ; attempt++ {
		client, err := NewClient(ctx, url, exchangeName, queueName)
		if err == nil {
			return client, nil
		}
		if !IsConnectionError(err) || (maxAttempts > 0 && attempt+1 >= maxAttempts) {
			return nil, err
		}

		delay := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "AMQP connection failed, retrying",
			"attempt", attempt+1, "delay", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
