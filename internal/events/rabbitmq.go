package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	ExchangeKind   = "topic"
	publishTimeout = 5 * time.Second
)

// RoutingKey maps "reservation_approved" to "reservation.approved".
func RoutingKey(eventType string) string {
	return "reservation." + Action(eventType)
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher forwards bus events to a durable topic exchange so other
// systems can follow reservation changes.
type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	queue    chan *Event
	logger   *zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func NewRabbitPublisher(url, exchange string, logger *zerolog.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, ExchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	p := newRabbitPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newRabbitPublisher(ch amqpChannel, exchange string, logger *zerolog.Logger) *RabbitPublisher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RabbitPublisher{
		channel:  ch,
		exchange: exchange,
		queue:    make(chan *Event, 256),
		logger:   logger,
	}
}

// Forward subscribes the publisher to every reservation event on bus.
func (p *RabbitPublisher) Forward(bus *EventBus) {
	bus.SubscribeAll(ReservationEvents, p.enqueue)
}

func (p *RabbitPublisher) enqueue(event *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	select {
	case p.queue <- event:
		return nil
	default:
		return fmt.Errorf("rabbitmq queue full, dropping %s", event.Type)
	}
}

// Start drains the queue until ctx is done or Close is called.
func (p *RabbitPublisher) Start(ctx context.Context) {
	p.logger.Info().Str("exchange", p.exchange).Msg("rabbitmq forwarder started")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.queue:
			if !ok {
				return
			}
			if err := p.Publish(ctx, event); err != nil {
				p.logger.Error().Err(err).Str("event_type", event.Type).Str("event_id", event.ID).Msg("rabbitmq publish failed")
			}
		}
	}
}

// Publish sends one event as a persistent JSON message.
func (p *RabbitPublisher) Publish(ctx context.Context, event *Event) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := RoutingKey(event.Type)
	if err := p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.CreatedAt,
		Type:         event.Type,
		Body:         event.Payload,
	}); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	p.logger.Debug().Str("routing_key", key).Str("event_id", event.ID).Msg("rabbitmq event published")
	return nil
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
