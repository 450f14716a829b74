package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to every key so several deployments can share a
	// database.
	KeyPrefix string
	CacheTTL  time.Duration
}

// RedisCache stores JSON-encoded values in Redis. It can sit in front of a
// slower source, or be written to directly as a shared Store.
type RedisCache[K comparable, V any] struct {
	client   redis.UniversalClient
	logger   zerolog.Logger
	prefix   string
	ttl      time.Duration
	fallback Fetcher[K, V]
}

// NewRedisCache connects to Redis and pings it before returning. fallback may
// be nil.
func NewRedisCache[K comparable, V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
	fallback Fetcher[K, V],
) (*RedisCache[K, V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return NewRedisCacheWithClient[K, V](rdb, cfg, logger, fallback), nil
}

// NewRedisCacheWithClient wraps an existing client. The cache takes ownership
// of it and closes it in Close.
func NewRedisCacheWithClient[K comparable, V any](
	client redis.UniversalClient,
	cfg *RedisConfig,
	logger zerolog.Logger,
	fallback Fetcher[K, V],
) *RedisCache[K, V] {
	return &RedisCache[K, V]{
		client:   client,
		logger:   logger.With().Str("component", "RedisCache").Logger(),
		prefix:   cfg.KeyPrefix,
		ttl:      cfg.CacheTTL,
		fallback: fallback,
	}
}

// Fetch checks Redis first. On a miss the fallback is consulted and its
// answer is written back to Redis in the background.
func (c *RedisCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	value, err := c.fetchFromRedis(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Error().Err(err).Msg("Unexpected Redis error during fetch.")
		return zero, err
	}

	if c.fallback == nil {
		return zero, fmt.Errorf("redis %s: %w", c.key(key), ErrNotFound)
	}
	sourceValue, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if writeErr := c.Write(writeCtx, key, sourceValue); writeErr != nil {
			c.logger.Error().Err(writeErr).Str("key", c.key(key)).Msg("Failed to write back to Redis in background.")
		}
	}()
	return sourceValue, nil
}

// Write stores value under key with the configured TTL.
func (c *RedisCache[K, V]) Write(ctx context.Context, key K, value V) error {
	stringKey := c.key(key)
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", stringKey, err)
	}
	if err := c.client.Set(ctx, stringKey, data, c.ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to set value in Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	c.logger.Debug().Str("key", stringKey).Msg("Stored value in Redis.")
	return nil
}

// Delete removes key from Redis.
func (c *RedisCache[K, V]) Delete(ctx context.Context, key K) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisCache[K, V]) Close() error {
	if c.client == nil {
		return nil
	}
	c.logger.Info().Msg("Closing Redis client connection...")
	return c.client.Close()
}

func (c *RedisCache[K, V]) fetchFromRedis(ctx context.Context, key K) (V, error) {
	var value V
	stringKey := c.key(key)
	data, err := c.client.Get(ctx, stringKey).Bytes()
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal(data, &value); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to unmarshal cached data.")
		return value, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	c.logger.Debug().Str("key", stringKey).Msg("Redis cache hit.")
	return value, nil
}

func (c *RedisCache[K, V]) key(key K) string {
	return c.prefix + fmt.Sprintf("%v", key)
}
