package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection wraps the RabbitMQ connection shared by the event bus and the
// action consumer
type Connection struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

// NewConnection dials RabbitMQ and closes the connection on shutdown
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url string) (*Connection, error) {
	logger.Info("attempting to connect to RabbitMQ...")

	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("rabbitmq connection failed", zap.Error(err))
		return nil, fmt.Errorf("[RABBITMQ CONNECTION FAILED] cannot connect to RabbitMQ, check RABBITMQ_URL and credentials: %w", err)
	}

	mqConn := &Connection{conn: conn, logger: logger}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go mqConn.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
			logger.Info("rabbitmq connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if conn.IsClosed() {
				return nil
			}
			if err := conn.Close(); err != nil {
				logger.Error("failed to close rabbitmq connection", zap.Error(err))
				return err
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	return mqConn, nil
}

// Channel opens a new channel on the connection
func (c *Connection) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("[RABBITMQ] failed to open channel: %w", err)
	}
	return ch, nil
}

// watch logs unexpected connection loss; a nil error means a clean close
func (c *Connection) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		c.logger.Error("rabbitmq connection lost",
			zap.Int("code", err.Code),
			zap.String("reason", err.Reason),
			zap.Bool("server", err.Server),
		)
	}
}
