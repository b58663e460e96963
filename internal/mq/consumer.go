package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler processes one action request body
type MessageHandler func(ctx context.Context, body []byte) error

// Consumer receives action requests. A request whose handler fails is
// rejected without requeue and dead-lettered.
type Consumer struct {
	channel        *amqp.Channel
	queue          string
	prefetchCount  int
	handlerTimeout time.Duration
	logger         *zap.Logger
	handler        MessageHandler
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection     *Connection
	Queue          string
	DLQQueue       string
	Exchange       string
	RoutingKey     string
	PrefetchCount  int
	HandlerTimeout time.Duration
	Logger         *zap.Logger
	Handler        MessageHandler
}

// NewConsumer opens a channel and declares the action topology
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		return nil, err
	}

	return newConsumer(ch, cfg), nil
}

func newConsumer(ch *amqp.Channel, cfg ConsumerConfig) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Consumer{
		channel:        ch,
		queue:          cfg.Queue,
		prefetchCount:  cfg.PrefetchCount,
		handlerTimeout: timeout,
		logger:         logger,
		handler:        cfg.Handler,
	}
}

func declareTopology(ch *amqp.Channel, cfg ConsumerConfig) error {
	err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// DLQ first so the dead-letter target exists before the main queue
	if _, err := ch.QueueDeclare(cfg.DLQQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.DLQQueue,
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}

	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Start starts consuming until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started",
		zap.String("queue", c.queue),
		zap.Int("prefetch", c.prefetchCount),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed")
					return
				}
				c.handle(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	logger := c.logger.With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageId),
	)
	logger.Debug("received action request", zap.Int("body_size", len(msg.Body)))

	handlerCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	err := c.handler(handlerCtx, msg.Body)
	cancel()

	if err != nil {
		logger.Error("action request failed", zap.Error(err))
		// requeue=false dead-letters the message
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error("failed to NACK message", zap.Error(nackErr))
		}
		return
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		logger.Error("failed to ACK message", zap.Error(ackErr))
		return
	}
	logger.Debug("action request acknowledged")
}

// Close closes the consumer channel
func (c *Consumer) Close() error {
	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel.Close()
	}
	return nil
}
