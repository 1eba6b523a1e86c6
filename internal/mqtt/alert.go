package mqtt

import (
	"context"
	"fmt"

	"geofence-tracker-backend/internal/notification"
)

// AlertPublisher publishes alerts as JSON on a topic.
type AlertPublisher struct {
	client Client
	topic  string
	qos    byte
}

// NewAlertPublisher creates an alerter on top of an MQTT client.
func NewAlertPublisher(c Client, topic string, qos byte) *AlertPublisher {
	return &AlertPublisher{client: c, topic: topic, qos: qos}
}

func (p *AlertPublisher) Alert(_ context.Context, a notification.Alert) error {
	payload, err := a.JSON()
	if err != nil {
		return fmt.Errorf("format alert: %w", err)
	}
	if err := p.client.Publish(p.topic, p.qos, false, payload); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
