package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/go-markerflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MARKERFLOW_PROJECT_ID", "test-project")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPPort)
	assert.Equal(t, "map", cfg.TargetFrame)
	assert.Equal(t, "generation", cfg.ExpiryPolicy)
	assert.Equal(t, config.TransportPubSub, cfg.Transport)
	assert.Equal(t, 1<<20, cfg.Payload.MaxSize)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.Equal(t, 60*time.Second, cfg.MQTT.KeepAlive)
	assert.Equal(t, 2*time.Minute, cfg.MQTT.ReconnectWaitMax)
	assert.Equal(t, 10*time.Second, cfg.Transform.CacheDuration)
	assert.Equal(t, 100*time.Millisecond, cfg.Transform.Tolerance)
	assert.Equal(t, 64, cfg.Transform.MaxDepth)
	assert.False(t, cfg.Transform.Store.Enabled())
	assert.Empty(t, cfg.Listeners)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "markerflow.yaml", `
project_id: fleet-prod
target_frame: world
expiry_policy: key
transforms:
  tolerance: 250ms
  store:
    redis:
      addr: redis:6379
      key_prefix: "fleet:"
listeners:
  - topic: /robot/markers
    kind: marker_array
  - topic: /tf
    kind: transform
    subscription: tf-sub
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fleet-prod", cfg.ProjectID)
	assert.Equal(t, "world", cfg.TargetFrame)
	assert.Equal(t, "key", cfg.ExpiryPolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.Transform.Tolerance)
	assert.Equal(t, "redis:6379", cfg.Transform.Store.Redis.Addr)
	assert.Equal(t, "fleet:", cfg.Transform.Store.Redis.KeyPrefix)
	assert.Equal(t, time.Minute, cfg.Transform.Store.Redis.TTL)
	assert.True(t, cfg.Transform.Store.Enabled())

	require.Len(t, cfg.Listeners, 2)
	assert.Equal(t, config.ListenerConfig{Topic: "/robot/markers", Kind: "marker_array"}, cfg.Listeners[0])
	assert.Equal(t, "robot-markers-markerflow", cfg.Listeners[0].SubscriptionID())
	assert.Equal(t, "tf-sub", cfg.Listeners[1].SubscriptionID())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "markerflow.json", `{"project_id": "from-file", "log_level": "warn"}`)
	t.Setenv("MARKERFLOW_LOG_LEVEL", "debug")
	t.Setenv("MARKERFLOW_TRANSFORMS_STORE_REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.ProjectID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.Transform.Store.Redis.Addr)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load("/nonexistent/markerflow.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})

	t.Run("pubsub without project", func(t *testing.T) {
		_, err := config.Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project_id")
	})

	t.Run("unknown transport", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "transport: carrier-pigeon\n")
		_, err := config.Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown transport")
	})

	t.Run("mqtt qos out of range", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "transport: mqtt\nmqtt:\n  qos: 3\n")
		_, err := config.Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mqtt.qos")
	})

	t.Run("listener without topic", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "transport: mqtt\nlisteners:\n  - kind: marker\n")
		_, err := config.Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "listeners[0]")
	})
}

func TestPubSubTopicID(t *testing.T) {
	assert.Equal(t, "tf", config.PubSubTopicID("/tf"))
	assert.Equal(t, "robot-1-markers", config.PubSubTopicID("/robot/1/markers/"))
}
