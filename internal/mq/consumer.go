package mq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Message is the part of a delivery handed to a MessageHandler
type Message struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
	RoutingKey      string
}

// MessageHandler processes one telemetry batch. A returned error
// dead-letters the delivery.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer feeds telemetry batches from the ingest queue to a handler
type Consumer struct {
	conn             *Connection
	channel          *amqp.Channel
	queue            string
	dlqQueue         string
	exchange         string
	routingKey       string
	prefetchCount    int
	deadLettering    bool
	logger           *zap.Logger
	messageProcessor MessageHandler
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection       *Connection
	Queue            string
	DLQQueue         string
	Exchange         string
	RoutingKey       string
	PrefetchCount    int
	Logger           *zap.Logger
	MessageProcessor MessageHandler
}

// NewConsumer declares the ingest topology and returns a consumer bound to it.
// Rejected batches are routed to DLQQueue through the default exchange.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := openChannel(cfg.Connection, cfg.PrefetchCount)
	if err != nil {
		return nil, err
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare ingest exchange %s: %w", cfg.Exchange, err)
	}

	// The dead-letter queue must exist before the ingest queue points at it
	_, err = ch.QueueDeclare(
		cfg.DLQQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare dead-letter queue %s: %w", cfg.DLQQueue, err)
	}

	deadLettering := true
	_, err = ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		deadLetterArgs(cfg.DLQQueue),
	)
	if err != nil {
		if !isPreconditionFailed(err) {
			ch.Close()
			return nil, fmt.Errorf("failed to declare ingest queue %s: %w", cfg.Queue, err)
		}

		// The broker closed the channel; reuse the queue as declared elsewhere
		cfg.Logger.Warn("ingest queue exists without dead-lettering, rejected batches will be dropped",
			zap.String("queue", cfg.Queue),
			zap.String("dlq", cfg.DLQQueue),
			zap.Error(err),
		)
		if ch, err = openChannel(cfg.Connection, cfg.PrefetchCount); err != nil {
			return nil, err
		}
		if _, err = ch.QueueDeclarePassive(cfg.Queue, true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to reuse ingest queue %s: %w", cfg.Queue, err)
		}
		deadLettering = false
	}

	if err = ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind ingest queue %s to %s: %w", cfg.Queue, cfg.Exchange, err)
	}

	return &Consumer{
		conn:             cfg.Connection,
		channel:          ch,
		queue:            cfg.Queue,
		dlqQueue:         cfg.DLQQueue,
		exchange:         cfg.Exchange,
		routingKey:       cfg.RoutingKey,
		prefetchCount:    cfg.PrefetchCount,
		deadLettering:    deadLettering,
		logger:           cfg.Logger,
		messageProcessor: cfg.MessageProcessor,
	}, nil
}

func openChannel(conn *Connection, prefetch int) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	return ch, nil
}

// deadLetterArgs routes rejected deliveries straight to the named queue
func deadLetterArgs(dlq string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
}

// isPreconditionFailed reports a redeclaration with arguments that differ
// from the existing queue
func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}

// Start consumes telemetry batches until ctx is cancelled
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
		return fmt.Errorf("failed to consume ingest queue %s: %w", c.queue, err)
	}

	c.logger.Info("telemetry consumer started",
		zap.String("queue", c.queue),
		zap.String("exchange", c.exchange),
		zap.String("routing_key", c.routingKey),
		zap.Int("prefetch", c.prefetchCount),
		zap.Bool("dead_lettering", c.deadLettering),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("telemetry consumer stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("ingest delivery channel closed", zap.String("queue", c.queue))
					return
				}
				c.processMessage(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	logger := c.logger.With(
		zap.String("routing_key", msg.RoutingKey),
		zap.Int("body_size", len(msg.Body)),
	)
	logger.Debug("telemetry batch received")

	err := c.messageProcessor(ctx, Message{
		Body:            msg.Body,
		ContentType:     msg.ContentType,
		ContentEncoding: msg.ContentEncoding,
		RoutingKey:      msg.RoutingKey,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		// Shutdown interrupted the batch; another consumer picks it up
		logger.Warn("telemetry batch interrupted by shutdown, requeueing", zap.Error(err))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("failed to requeue telemetry batch", zap.Error(nackErr))
		}
	case err != nil:
		logger.Error("telemetry batch rejected",
			zap.String("dlq", c.dlqQueue),
			zap.Bool("dead_lettering", c.deadLettering),
			zap.Error(err),
		)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error("failed to reject telemetry batch", zap.Error(nackErr))
		}
	default:
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error("failed to acknowledge telemetry batch", zap.Error(ackErr))
			return
		}
		logger.Debug("telemetry batch acknowledged")
	}
}

// Close closes the consumer channel
func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
