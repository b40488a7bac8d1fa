package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection wraps RabbitMQ connection
type Connection struct {
	conn *amqp.Connection
}

// DialConfig holds broker connection settings
type DialConfig struct {
	URL string
	// Retries bounds the extra dial attempts made while the broker starts up
	Retries uint64
	// RetryInterval is the first wait between attempts; later waits grow exponentially
	RetryInterval time.Duration
}

// NewConnection creates a new RabbitMQ connection bound to the fx lifecycle
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, cfg DialConfig) (*Connection, error) {
	mqConn, err := Dial(context.Background(), logger, cfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("rabbitmq connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := mqConn.Close(); err != nil {
				logger.Error("failed to close rabbitmq connection", zap.Error(err))
				return err
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	return mqConn, nil
}

// Dial connects to RabbitMQ, retrying with exponential backoff
func Dial(ctx context.Context, logger *zap.Logger, cfg DialConfig) (*Connection, error) {
	logger.Info("attempting to connect to RabbitMQ...")

	eb := backoff.NewExponentialBackOff()
	if cfg.RetryInterval > 0 {
		eb.InitialInterval = cfg.RetryInterval
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	var conn *amqp.Connection
	attempt := 0
	op := func() error {
		attempt++
		c, err := amqp.Dial(cfg.URL)
		if err != nil {
			logger.Warn("rabbitmq dial failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, cfg.Retries), ctx)); err != nil {
		logger.Error("rabbitmq connection failed", zap.Error(err))
		return nil, fmt.Errorf("[RABBITMQ CONNECTION FAILED] cannot connect to RabbitMQ. Please check: 1) RabbitMQ is running, 2) RABBITMQ_URL is correct, 3) Credentials are valid. Error: %w", err)
	}
	return &Connection{conn: conn}, nil
}

// Channel creates a new RabbitMQ channel
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}

// Close closes the underlying connection
func (c *Connection) Close() error {
	return c.conn.Close()
}
