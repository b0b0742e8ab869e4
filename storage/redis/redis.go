// Package redis provides a Redis implementation of the metering stores.
// Counter increments run as Lua scripts so check-and-increment is atomic.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mockpress/mockpress/pkg/metering"
)

// Store implements metering.CounterStore and metering.KeyValueStore using Redis
type Store struct {
	client    redis.UniversalClient
	config    Config
	increment *redis.Script
}

// Config holds Redis store configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "mockpress:")
	KeyPrefix string

	// KeyValueTTL is the TTL for key-value entries (0 = no expiration)
	KeyValueTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:   "mockpress:",
		KeyValueTTL: 0,
	}
}

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "mockpress:"
	}

	return &Store{
		client: client,
		config: config,
		// Check-and-increment in one round trip. Rejected increments do
		// not change the count.
		increment: redis.NewScript(`
			local key = KEYS[1]
			local limit = tonumber(ARGV[1])
			local ttl = tonumber(ARGV[2])

			local current = tonumber(redis.call('GET', key) or '0')
			if current >= limit then
				return {current, 'limit'}
			end

			local new = redis.call('INCR', key)
			if ttl > 0 then
				redis.call('EXPIRE', key, ttl)
			end
			return {new, 'ok'}
		`),
	}, nil
}

// counterKey stamps the window boundary into the key, so a new window gets a
// fresh counter and stale ones age out via TTL.
func (s *Store) counterKey(key metering.CounterKey, windowStart time.Time) string {
	return fmt.Sprintf("%scounter:%s:%s:%d", s.config.KeyPrefix, key.ClientID, key.Window, windowStart.Unix())
}

func (s *Store) kvKey(key string) string {
	return s.config.KeyPrefix + "kv:" + key
}

// Increment atomically increments the counter for the given window unless it
// is already at the limit, in which case metering.ErrLimitReached is returned
// with the unchanged count.
func (s *Store) Increment(ctx context.Context, key metering.CounterKey, windowStart time.Time, limit int) (int, error) {
	ttl := int64((2 * key.Window.Duration()).Seconds())

	raw, err := s.increment.Run(ctx, s.client,
		[]string{s.counterKey(key, windowStart)}, limit, ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("redis increment: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, fmt.Errorf("redis increment: unexpected reply %v", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, fmt.Errorf("redis increment: unexpected count %v", values[0])
	}
	status, _ := values[1].(string)

	if status == "limit" {
		return int(count), metering.ErrLimitReached
	}
	return int(count), nil
}

// Count returns the current count for the given window without mutating it.
// A missing counter reads as zero.
func (s *Store) Count(ctx context.Context, key metering.CounterKey, windowStart time.Time) (int, error) {
	count, err := s.client.Get(ctx, s.counterKey(key, windowStart)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return count, nil
}

// Get retrieves a value by key
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.kvKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", metering.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

// Set stores a value by key
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.kvKey(key), value, s.config.KeyValueTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value by key
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.kvKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping verifies connectivity to Redis
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client
func (s *Store) Close() error {
	return s.client.Close()
}
