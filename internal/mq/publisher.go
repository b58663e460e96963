package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/utility-sync-worker/internal/host"
	"github.com/septivank/utility-sync-worker/internal/metrics"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Sender is the publishing side of an AMQP channel
type Sender interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// OutcomeEvent is the message published for every action outcome
type OutcomeEvent struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	OccurredAt string         `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

type outgoing struct {
	routingKey string
	body       []byte
}

// EventBus publishes outcome events to a topic exchange. Publish never
// blocks: events are queued and sent by a background goroutine, and dropped
// when the queue is full.
type EventBus struct {
	sender   Sender
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan outgoing
	done   chan struct{}
}

var _ host.EventBus = (*EventBus)(nil)

// NewEventBus opens a channel, declares the event exchange and starts the
// sending goroutine
func NewEventBus(conn *Connection, exchange string, bufferSize int, logger *zap.Logger) (*EventBus, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	bus := NewEventBusWithSender(ch, exchange, bufferSize, logger)
	bus.channel = ch
	return bus, nil
}

// NewEventBusWithSender creates an event bus on top of any sender
func NewEventBusWithSender(sender Sender, exchange string, bufferSize int, logger *zap.Logger) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &EventBus{
		sender:   sender,
		exchange: exchange,
		logger:   logger,
		queue:    make(chan outgoing, bufferSize),
		done:     make(chan struct{}),
	}
	go bus.run()
	return bus
}

// Publish queues an event; eventName is used as routing key
func (b *EventBus) Publish(ctx context.Context, eventName string, payload map[string]any) {
	body, err := json.Marshal(OutcomeEvent{
		EventID:    uuid.NewString(),
		EventType:  eventName,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Data:       payload,
	})
	if err != nil {
		b.logger.Error("failed to marshal event", zap.String("event", eventName), zap.Error(err))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		metrics.RecordDroppedEvent()
		b.logger.Warn("event bus closed, dropping event", zap.String("event", eventName))
		return
	}

	select {
	case b.queue <- outgoing{routingKey: eventName, body: body}:
	default:
		metrics.RecordDroppedEvent()
		b.logger.Warn("event queue full, dropping event", zap.String("event", eventName))
	}
}

func (b *EventBus) run() {
	defer close(b.done)
	for msg := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := b.sender.PublishWithContext(
			ctx,
			b.exchange,
			msg.routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         msg.body,
				DeliveryMode: amqp.Persistent,
			},
		)
		cancel()
		if err != nil {
			b.logger.Error("failed to publish event", zap.String("routing_key", msg.routingKey), zap.Error(err))
			continue
		}
		b.logger.Debug("published event", zap.String("routing_key", msg.routingKey))
	}
}

// Close stops accepting events, flushes the queue until ctx expires and
// closes the channel
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("event queue not drained before shutdown", zap.Int("pending", len(b.queue)))
	}

	if b.channel != nil {
		return b.channel.Close()
	}
	return nil
}
