// Package config loads markerflow settings from an optional YAML or JSON file,
// MARKERFLOW_* environment variables and built-in defaults, in that order of
// precedence: environment, file, defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with nested keys
// joined by underscores: transforms.redis.addr is MARKERFLOW_TRANSFORMS_REDIS_ADDR.
const EnvPrefix = "MARKERFLOW"

// Transport names.
const (
	TransportPubSub = "pubsub"
	TransportMQTT   = "mqtt"
)

// Config is the full process configuration.
type Config struct {
	LogLevel        string `mapstructure:"log_level"`
	HTTPPort        string `mapstructure:"http_port"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`

	// TargetFrame is the static frame every marker is drawn in.
	TargetFrame string `mapstructure:"target_frame"`
	// ExpiryPolicy is "generation" or "key".
	ExpiryPolicy string `mapstructure:"expiry_policy"`
	// Transport is "pubsub" or "mqtt".
	Transport string `mapstructure:"transport"`

	Listeners []ListenerConfig `mapstructure:"listeners"`
	Payload   PayloadConfig    `mapstructure:"payload"`
	MQTT      MQTTConfig       `mapstructure:"mqtt"`
	Transform TransformConfig  `mapstructure:"transforms"`
}

// ListenerConfig subscribes to one topic.
type ListenerConfig struct {
	Topic string `mapstructure:"topic"`
	// Kind is "marker", "marker_array" or "transform".
	Kind string `mapstructure:"kind"`
	// Subscription overrides the Pub/Sub subscription ID derived from Topic.
	Subscription string `mapstructure:"subscription"`
}

// SubscriptionID returns the Pub/Sub subscription for the listener. Without
// an override it is the topic with slashes turned into dashes, suffixed with
// "-markerflow": "/robot/markers" becomes "robot-markers-markerflow".
func (l ListenerConfig) SubscriptionID() string {
	if l.Subscription != "" {
		return l.Subscription
	}
	return PubSubTopicID(l.Topic) + "-markerflow"
}

// PubSubTopicID maps a slash-separated topic name onto a valid Pub/Sub ID.
func PubSubTopicID(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", "-")
}

// PayloadConfig bounds accepted message sizes in bytes. MaxSize of zero
// disables the upper bound.
type PayloadConfig struct {
	MinSize int `mapstructure:"min_size"`
	MaxSize int `mapstructure:"max_size"`
}

type MQTTConfig struct {
	BrokerURL          string        `mapstructure:"broker_url"`
	ClientIDPrefix     string        `mapstructure:"client_id_prefix"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	QoS                int           `mapstructure:"qos"`
	KeepAlive          time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ReconnectWaitMax   time.Duration `mapstructure:"reconnect_wait_max"`
	CACertFile         string        `mapstructure:"ca_cert_file"`
	ClientCertFile     string        `mapstructure:"client_cert_file"`
	ClientKeyFile      string        `mapstructure:"client_key_file"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

// TransformConfig configures how frames are resolved: an in-process buffer
// fed by transform listeners, optionally backed by a shared store.
type TransformConfig struct {
	CacheDuration time.Duration `mapstructure:"cache_duration"`
	Tolerance     time.Duration `mapstructure:"tolerance"`
	MaxDepth      int           `mapstructure:"max_depth"`

	Store StoreConfig `mapstructure:"store"`
}

// StoreConfig enables the shared transform store. Lookups go through an
// in-memory LRU, then Redis, then Firestore; each layer is optional.
type StoreConfig struct {
	LRUSize int           `mapstructure:"lru_size"`
	LRUTTL  time.Duration `mapstructure:"lru_ttl"`

	Redis     RedisConfig     `mapstructure:"redis"`
	Firestore FirestoreConfig `mapstructure:"firestore"`
}

// Enabled reports whether any remote layer is configured.
func (s StoreConfig) Enabled() bool {
	return s.Redis.Addr != "" || s.Firestore.Collection != ""
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type FirestoreConfig struct {
	Collection string `mapstructure:"collection"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http_port", ":8080")
	v.SetDefault("project_id", "")
	v.SetDefault("credentials_file", "")
	v.SetDefault("target_frame", "map")
	v.SetDefault("expiry_policy", "generation")
	v.SetDefault("transport", TransportPubSub)

	v.SetDefault("payload.min_size", 2)
	v.SetDefault("payload.max_size", 1<<20)

	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id_prefix", "markerflow-")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", "60s")
	v.SetDefault("mqtt.connect_timeout", "10s")
	v.SetDefault("mqtt.reconnect_wait_max", "2m")
	v.SetDefault("mqtt.ca_cert_file", "")
	v.SetDefault("mqtt.client_cert_file", "")
	v.SetDefault("mqtt.client_key_file", "")
	v.SetDefault("mqtt.insecure_skip_verify", false)

	v.SetDefault("transforms.cache_duration", "10s")
	v.SetDefault("transforms.tolerance", "100ms")
	v.SetDefault("transforms.max_depth", 64)
	v.SetDefault("transforms.store.lru_size", 256)
	v.SetDefault("transforms.store.lru_ttl", "1s")
	v.SetDefault("transforms.store.redis.addr", "")
	v.SetDefault("transforms.store.redis.password", "")
	v.SetDefault("transforms.store.redis.db", 0)
	v.SetDefault("transforms.store.redis.key_prefix", "markerflow:tf:")
	v.SetDefault("transforms.store.redis.ttl", "1m")
	v.SetDefault("transforms.store.firestore.collection", "")
}

// Load reads path, if non-empty, over the defaults and applies environment
// overrides. The file type is taken from its extension.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.TargetFrame == "" {
		errs = append(errs, errors.New("target_frame is required"))
	}
	switch c.Transport {
	case TransportPubSub:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("project_id is required for the pubsub transport"))
		}
	case TransportMQTT:
		if c.MQTT.BrokerURL == "" {
			errs = append(errs, errors.New("mqtt.broker_url is required for the mqtt transport"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.Transform.Store.Firestore.Collection != "" && c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required for the firestore transform store"))
	}
	for i, l := range c.Listeners {
		if l.Topic == "" {
			errs = append(errs, fmt.Errorf("listeners[%d]: topic is required", i))
		}
	}
	return errors.Join(errs...)
}
