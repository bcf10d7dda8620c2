package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/locationtracker/agent/internal/observability"
)

var (
	// ErrMiss is returned by Get when the key is absent or caching is disabled
	ErrMiss = errors.New("cache miss")
	// ErrCorrupt is returned by Get when the stored value does not decode into dest
	ErrCorrupt = errors.New("cache entry corrupt")
)

// Cache is a JSON value cache backed by Redis. The zero value and a Cache
// created without a URL are disabled: Set is a no-op and Get always misses.
type Cache struct {
	client *redis.Client
	prefix string
}

// New connects to redisURL. Connection problems disable the cache rather than fail.
func New(ctx context.Context, redisURL, prefix string) *Cache {
	c := &Cache{prefix: prefix}
	if redisURL == "" {
		observability.Info("Redis URL not provided, caching disabled")
		return c
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		observability.Warnf("Failed to parse Redis URL: %v, caching disabled", err)
		return c
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		observability.Warnf("Failed to connect to Redis: %v, caching disabled", err)
		client.Close()
		return c
	}

	observability.Info("Redis cache initialized successfully")
	c.client = client
	return c
}

// Enabled reports whether values are actually stored
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// Set stores a value with expiration
func (c *Cache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, expiration).Err()
}

// Get decodes a cached value into dest
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.Enabled() {
		return ErrMiss
	}

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

// Delete removes a key
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, c.prefix+key).Err()
}
