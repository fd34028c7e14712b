// Package events delivers outbox events to the message broker.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"opscore/internal/store"
)

// Exchange is the topic exchange all platform events flow through.
// Routing keys are the event topics (slot.booked, balance.credited, ...).
const Exchange = "opscore.events"

// Publisher delivers one event to the broker. Implementations must be safe
// for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev store.OutboxEvent) error
	Close() error
}

// AMQPPublisher publishes to RabbitMQ over a long-lived connection,
// redialing lazily when the broker drops it.
type AMQPPublisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher connects to the broker and declares the topic exchange.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect dials the broker and declares the exchange. Caller must hold mu
// or be the constructor.
func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Durable so routing survives broker restarts.
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.ch = ch
	return nil
}

// Publish sends one event, persistent, routed by its topic. A dropped
// connection triggers a single redial; a second failure surfaces to the
// caller, which re-schedules the event.
func (p *AMQPPublisher) Publish(ctx context.Context, ev store.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    strconv.FormatInt(ev.ID, 10),
		Headers: amqp.Table{
			"tenant_id": ev.TenantID.String(),
			"topic":     ev.Topic,
		},
		Body: ev.Payload,
	}

	if err := p.ch.PublishWithContext(ctx, Exchange, ev.Topic, false, false, pub); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Topic, err)
	}
	return nil
}

// Close shuts down the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// LogPublisher stands in when no broker is configured: events are logged
// and counted as delivered so the outbox drains in development.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) Publish(ctx context.Context, ev store.OutboxEvent) error {
	p.Logger.InfoContext(ctx, "event published (no broker)",
		"topic", ev.Topic,
		"tenant_id", ev.TenantID,
		"event_id", ev.ID,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
