// Package mqtt wraps the paho client for the uplink bridge and alert
// publishing.
package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"geofence-tracker-backend/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Client is the subset of broker operations the service needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, fn func(topic string, payload []byte)) error
	Close() error
}

// RealClient talks to an actual broker.
type RealClient struct {
	client paho.Client
	log    zerolog.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler paho.MessageHandler
}

// Connect dials the configured broker. The client id gets a random suffix
// so several instances can share a broker.
func Connect(cfg config.MQTTConfig, log zerolog.Logger) (*RealClient, error) {
	log = log.With().Str("module", "mqtt").Logger()
	rc := &RealClient{log: log, subs: make(map[string]subscription)}
	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8])

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("connection to broker lost")
		}).
		SetOnConnectHandler(func(c paho.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("connected to broker")
			rc.resubscribe(c)
		})

	client := paho.NewClient(opts)
	rc.client = client
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return rc, nil
}

// resubscribe restores subscriptions after a reconnect; a clean session
// drops them on the broker side.
func (c *RealClient) resubscribe(client paho.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.subs {
		topic := topic
		token := client.Subscribe(topic, sub.qos, sub.handler)
		go func() {
			if token.WaitTimeout(publishTimeout) && token.Error() == nil {
				c.log.Info().Str("topic", topic).Msg("resubscribed")
				return
			}
			c.log.Error().Err(token.Error()).Str("topic", topic).Msg("resubscribe failed")
		}()
	}
}

func (c *RealClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (c *RealClient) Subscribe(topic string, qos byte, fn func(topic string, payload []byte)) error {
	handler := func(_ paho.Client, msg paho.Message) {
		fn(msg.Topic(), msg.Payload())
	}
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, handler)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.log.Info().Str("topic", topic).Msg("subscribed")
	return nil
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000)
	return nil
}
