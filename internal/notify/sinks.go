package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

// LogSink writes notifications to the structured log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that only logs
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, msg Message) error {
	fields := []zap.Field{
		zap.String("message_id", msg.ID.String()),
		zap.String("kind", string(msg.Kind)),
		zap.Int64("board", msg.BoardNumber),
		zap.String("text", msg.Text),
	}
	if msg.ThreadID != nil {
		fields = append(fields, zap.Int64("thread_id", *msg.ThreadID))
	}
	s.logger.Info("notification", fields...)
	return nil
}

// Publisher publishes a raw body under a routing key
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// AMQPSink publishes notifications as JSON to a topic exchange.
// The thread id becomes the last routing key segment.
type AMQPSink struct {
	publisher  Publisher
	routingKey string
}

// NewAMQPSink creates a sink on top of an AMQP publisher
func NewAMQPSink(publisher Publisher, routingKey string) *AMQPSink {
	return &AMQPSink{publisher: publisher, routingKey: routingKey}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.publisher.Publish(ctx, RoutingKey(s.routingKey, msg.ThreadID), body)
}

// RoutingKey appends the thread segment to base, or "default" when unset
func RoutingKey(base string, thread *int64) string {
	if thread == nil {
		return base + ".default"
	}
	return base + "." + strconv.FormatInt(*thread, 10)
}

// MQTTPublisher is the part of autopaho.ConnectionManager the sink needs
type MQTTPublisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// MQTTSink publishes notifications as JSON to <prefix>/<thread>
type MQTTSink struct {
	client MQTTPublisher
	prefix string
	qos    byte
}

// NewMQTTSink creates a sink on top of an MQTT connection
func NewMQTTSink(client MQTTPublisher, topicPrefix string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, prefix: strings.TrimSuffix(topicPrefix, "/"), qos: qos}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	_, err = s.client.Publish(ctx, &paho.Publish{
		Topic:   Topic(s.prefix, msg.ThreadID),
		QoS:     s.qos,
		Payload: body,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Topic appends the thread segment to prefix, or "default" when unset
func Topic(prefix string, thread *int64) string {
	if thread == nil {
		return prefix + "/default"
	}
	return prefix + "/" + strconv.FormatInt(*thread, 10)
}
