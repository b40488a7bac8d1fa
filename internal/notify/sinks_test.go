package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/septivank/fleetwatch/internal/notify"
)

type fakePublisher struct {
	routingKey string
	body       []byte
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	p.routingKey = routingKey
	p.body = body
	return nil
}

type fakeMQTT struct {
	published *paho.Publish
}

func (c *fakeMQTT) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	c.published = p
	return &paho.PublishResponse{}, nil
}

func TestAMQPSink_RoutesByThread(t *testing.T) {
	pub := &fakePublisher{}
	sink := notify.NewAMQPSink(pub, "fleet.notify")

	msg := notify.NewMessage(notify.KindArmReport, 133, "report", time.Now())
	msg.ThreadID = int64Ptr(405)
	if err := sink.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if pub.routingKey != "fleet.notify.405" {
		t.Errorf("Expected routing key fleet.notify.405, got %s", pub.routingKey)
	}

	var decoded notify.Message
	if err := json.Unmarshal(pub.body, &decoded); err != nil {
		t.Fatalf("Body is not JSON: %v", err)
	}
	if decoded.ID != msg.ID || decoded.BoardNumber != 133 {
		t.Errorf("Unexpected decoded message %+v", decoded)
	}
}

func TestMQTTSink_TopicPerThread(t *testing.T) {
	client := &fakeMQTT{}
	sink := notify.NewMQTTSink(client, "fleetwatch/notify/", 1)

	if err := sink.Send(context.Background(), notify.NewMessage(notify.KindPowerOn, 7, "on", time.Now())); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if client.published.Topic != "fleetwatch/notify/default" {
		t.Errorf("Expected default topic, got %s", client.published.Topic)
	}
	if client.published.QoS != 1 {
		t.Errorf("Expected QoS 1, got %d", client.published.QoS)
	}
}
