package mqttconverter

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MQTTClientConfig holds connection settings for the Paho client and the
// topic a consumer subscribes to.
type MQTTClientConfig struct {
	// BrokerURL is the full URL of the broker, e.g. "tls://mqtt.example.com:8883".
	BrokerURL string
	// Topic is the single topic filter the consumer subscribes to.
	Topic string
	// QoS for the subscription. Markers need at least 1 so deletes are not lost.
	QoS byte
	// ClientIDPrefix is followed by a random suffix, since brokers drop a
	// session when a second client connects with the same ID.
	ClientIDPrefix string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// ReconnectWaitMax caps the backoff between reconnect attempts.
	ReconnectWaitMax time.Duration
	// CACertFile, ClientCertFile and ClientKeyFile are optional PEM files for
	// tls:// brokers.
	CACertFile     string
	ClientCertFile string
	ClientKeyFile  string
	// InsecureSkipVerify skips broker certificate verification. Never use it
	// in production.
	InsecureSkipVerify bool
}

// DefaultMQTTClientConfig returns a config for topic on brokerURL with
// production timeouts.
func DefaultMQTTClientConfig(brokerURL, topic string) *MQTTClientConfig {
	return &MQTTClientConfig{
		BrokerURL:        brokerURL,
		Topic:            topic,
		QoS:              1,
		ClientIDPrefix:   "markerflow-",
		KeepAlive:        60 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ReconnectWaitMax: 2 * time.Minute,
	}
}

// NewClientOptions assembles Paho options from cfg. Subscriptions are
// resumed after a reconnect and messages are delivered in arrival order.
func NewClientOptions(cfg *MQTTClientConfig, logger zerolog.Logger) (*mqtt.ClientOptions, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	logger = logger.With().Str("component", "MqttClient").Str("broker", cfg.BrokerURL).Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientIDPrefix + uuid.NewString())
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.ReconnectWaitMax)
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)
	opts.SetOrderMatters(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Msg("Connected to MQTT broker.")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error().Err(err).Msg("Lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(cfg.BrokerURL), "tls://") || strings.HasPrefix(strings.ToLower(cfg.BrokerURL), "ssl://") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return opts, nil
}

// NewClient creates an unconnected Paho client for cfg.
func NewClient(cfg *MQTTClientConfig, logger zerolog.Logger) (mqtt.Client, error) {
	opts, err := NewClientOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	return mqtt.NewClient(opts), nil
}

func newTLSConfig(cfg *MQTTClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
