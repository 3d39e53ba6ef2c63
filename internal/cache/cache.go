// Package cache stores resolved media in Redis.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mediafetch/backend/internal/logger"
	"github.com/mediafetch/backend/internal/media"
)

const keyPrefix = "mediafetch:resolve:"

var log = logger.WithComponent("cache")

type Cache struct {
	client *redis.Client
}

// New connects to Redis at redisURL (redis://host:port/db)
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info(ctx, "connected to redis", map[string]any{"addr": opts.Addr})
	return &Cache{client: client}, nil
}

// Client exposes the underlying connection for other Redis users
func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Key builds the cache key for a provider and canonical URL
func Key(p media.ProviderID, canonicalURL string) string {
	sum := sha1.Sum([]byte(canonicalURL))
	return keyPrefix + string(p) + ":" + hex.EncodeToString(sum[:])
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		log.Debug(ctx, "cache miss", map[string]any{"key": key})
		return "", false
	}
	if err != nil {
		log.Warn(ctx, "cache read failed", map[string]any{"key": key, "error": err.Error()})
		return "", false
	}
	log.Debug(ctx, "cache hit", map[string]any{"key": key})
	return val, true
}

func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Warn(ctx, "cache write failed", map[string]any{"key": key, "error": err.Error()})
		return err
	}
	log.Debug(ctx, "cache set", map[string]any{"key": key, "ttl": ttl.String()})
	return nil
}

// GetResult loads a cached extraction result
func (c *Cache) GetResult(ctx context.Context, key string) (media.Result, bool) {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return media.Result{}, false
	}
	var res media.Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil || !res.Success || res.Info == nil {
		log.Warn(ctx, "dropping unreadable cache entry", map[string]any{"key": key})
		c.client.Del(ctx, key)
		return media.Result{}, false
	}
	return res, true
}

// SetResult caches a result. Only successes with real video are stored;
// anything weaker is worth retrying on the next request.
func (c *Cache) SetResult(ctx context.Context, key string, res media.Result, ttl time.Duration) error {
	if !res.HasRealVideo() {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return c.Set(ctx, key, string(data), ttl)
}
