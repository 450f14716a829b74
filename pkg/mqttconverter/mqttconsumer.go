// Package mqttconverter delivers MQTT messages into a messagepipeline.
package mqttconverter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-markerflow/pkg/messagepipeline"
	"github.com/rs/zerolog"
)

// TopicAttribute is the message attribute holding the MQTT topic.
const TopicAttribute = "mqtt_topic"

// MqttConsumer implements messagepipeline.MessageConsumer for one MQTT topic.
type MqttConsumer struct {
	client mqtt.Client
	cfg    *MQTTClientConfig
	logger zerolog.Logger

	// sendMu is held for reading by the message handler while it sends, and
	// for writing by Stop before closing output.
	sendMu   sync.RWMutex
	output   chan messagepipeline.Message
	stopping chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMqttConsumer creates a consumer over client. The client is connected in
// Start if it is not already.
func NewMqttConsumer(client mqtt.Client, cfg *MQTTClientConfig, logger zerolog.Logger) (*MqttConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("mqtt client cannot be nil")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("MQTT topic is required")
	}
	return &MqttConsumer{
		client:   client,
		cfg:      cfg,
		logger:   logger.With().Str("component", "MqttConsumer").Str("topic", cfg.Topic).Logger(),
		output:   make(chan messagepipeline.Message, 1000),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Messages implements messagepipeline.MessageConsumer.
func (c *MqttConsumer) Messages() <-chan messagepipeline.Message { return c.output }

// Done implements messagepipeline.MessageConsumer.
func (c *MqttConsumer) Done() <-chan struct{} { return c.done }

// Start connects if needed and subscribes. A failed initial connection is
// logged, not returned; Paho keeps retrying in the background.
func (c *MqttConsumer) Start(ctx context.Context) error {
	if !c.client.IsConnected() {
		token := c.client.Connect()
		if !token.WaitTimeout(c.connectTimeout()) {
			c.logger.Warn().Msg("MQTT connect still pending, continuing in the background.")
		} else if err := token.Error(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to connect to MQTT broker on startup.")
		}
	}

	token := c.client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.handle)
	if !token.WaitTimeout(c.connectTimeout()) {
		c.logger.Warn().Uint8("qos", c.cfg.QoS).Msg("MQTT subscribe still pending, continuing in the background.")
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.Topic, err)
	} else {
		c.logger.Info().Uint8("qos", c.cfg.QoS).Msg("Subscribed to MQTT topic.")
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop(context.Background())
		case <-c.stopping:
		}
	}()
	return nil
}

// Stop unsubscribes, disconnects and closes the message channel.
func (c *MqttConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopping)
		if c.client.IsConnected() {
			if token := c.client.Unsubscribe(c.cfg.Topic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Msg("Failed to unsubscribe from MQTT topic.")
			}
			c.client.Disconnect(500)
		}
		c.sendMu.Lock()
		close(c.output)
		c.sendMu.Unlock()
		close(c.done)
		c.logger.Info().Msg("MqttConsumer stopped.")
	})
	return nil
}

// handle converts a Paho message. It blocks while the pipeline is full, which
// with ordered delivery applies back-pressure to the broker.
func (c *MqttConsumer) handle(_ mqtt.Client, msg mqtt.Message) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	select {
	case <-c.stopping:
		c.logger.Warn().Msg("Consumer stopping, dropping MQTT message.")
		return
	default:
	}

	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	out := messagepipeline.Message{
		MessageData: messagepipeline.MessageData{
			ID:          strconv.FormatUint(uint64(msg.MessageID()), 10),
			Payload:     payload,
			PublishTime: time.Now().UTC(),
		},
		Attributes: map[string]string{TopicAttribute: msg.Topic()},
		// Paho acknowledges QoS 1 and 2 at the protocol level.
	}
	select {
	case c.output <- out:
	case <-c.stopping:
		c.logger.Warn().Msg("Consumer stopping, dropping MQTT message.")
	}
}

func (c *MqttConsumer) connectTimeout() time.Duration {
	if c.cfg.ConnectTimeout > 0 {
		return c.cfg.ConnectTimeout
	}
	return 10 * time.Second
}
