// Package events publishes resolution and method-health events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mediafetch/backend/internal/logger"
	"github.com/mediafetch/backend/internal/media"
)

// Routing keys
const (
	KeyResolveCompleted = "resolve.completed"
	KeyMethodDisabled   = "method.disabled"
	KeyMethodEnabled    = "method.enabled"
)

const DefaultExchange = "mediafetch.events"

var log = logger.WithComponent("events")

// ResolveCompleted is emitted once per resolution request
type ResolveCompleted struct {
	RequestID  string           `json:"request_id,omitempty"`
	APIKeyID   string           `json:"api_key_id,omitempty"`
	Provider   media.ProviderID `json:"provider,omitempty"`
	URL        string           `json:"url"`
	Method     string           `json:"method,omitempty"`
	Success    bool             `json:"success"`
	Code       media.ErrorCode  `json:"code,omitempty"`
	Grade      string           `json:"grade"`
	Cached     bool             `json:"cached"`
	DurationMs int64            `json:"duration_ms"`
	At         time.Time        `json:"at"`
}

// MethodStateChanged is emitted when a method's breaker opens or closes
type MethodStateChanged struct {
	Method string    `json:"method"`
	State  string    `json:"state"`
	At     time.Time `json:"at"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Fanout delivers each event to several publishers. Publish returns the
// first error but always tries every publisher.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, routingKey string, event any) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, routingKey, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f Fanout) Close() error {
	var first error
	for _, p := range f {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                               { return nil }

// Config holds the RabbitMQ settings
type Config struct {
	URL      string
	Exchange string
}

// RabbitPublisher publishes JSON events to a topic exchange
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitPublisher dials RabbitMQ and declares the exchange
func NewRabbitPublisher(cfg Config) (*RabbitPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare an exchange: %w", err)
	}

	return &RabbitPublisher{conn: conn, channel: ch, exchange: cfg.Exchange}, nil
}

// Publish sends event as a persistent JSON message
func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Close closes the channel and connection
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Async wraps a publisher so callers never wait on the broker. Events are
// dropped, with a warning, when the buffer is full.
type Async struct {
	next  Publisher
	queue chan envelope
	done  chan struct{}
}

type envelope struct {
	key   string
	event any
}

// NewAsync starts a background publisher with the given buffer size
func NewAsync(next Publisher, buffer int) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{next: next, queue: make(chan envelope, buffer), done: make(chan struct{})}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for env := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.next.Publish(ctx, env.key, env.event); err != nil {
			log.Warn(ctx, "event publish failed", map[string]any{"routing_key": env.key, "error": err.Error()})
		}
		cancel()
	}
}

// Publish enqueues the event
func (a *Async) Publish(ctx context.Context, routingKey string, event any) error {
	select {
	case a.queue <- envelope{key: routingKey, event: event}:
		return nil
	default:
		log.Warn(ctx, "event buffer full, dropping event", map[string]any{"routing_key": routingKey})
		return nil
	}
}

// Close drains the buffer and closes the wrapped publisher
func (a *Async) Close() error {
	close(a.queue)
	<-a.done
	return a.next.Close()
}
