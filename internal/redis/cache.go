package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/session-tracker/internal/config"
)

// QueryCache stores JSON encoded query results in Redis. Every entry is
// namespaced by a generation counter; bumping the counter orphans all entries
// of the previous generation, which then expire through their TTL.
type QueryCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewQueryCache connects to Redis and returns a query cache
func NewQueryCache(cfg *config.RedisConfig, cacheCfg *config.CacheConfig, logger *slog.Logger) (*QueryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewQueryCacheWithClient(client, cacheCfg, logger), nil
}

// NewQueryCacheWithClient wraps an existing client
func NewQueryCacheWithClient(client *redis.Client, cacheCfg *config.CacheConfig, logger *slog.Logger) *QueryCache {
	return &QueryCache{
		client: client,
		prefix: cacheCfg.KeyPrefix,
		ttl:    cacheCfg.TTL,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *QueryCache) Close() error {
	return c.client.Close()
}

// generationKey returns the Redis key holding the current generation
func (c *QueryCache) generationKey() string {
	return c.prefix + ":generation"
}

// entryKey returns the Redis key for a query result within a generation
func (c *QueryCache) entryKey(gen int64, key string) string {
	return c.prefix + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

// Generation returns the current generation, 0 before the first invalidation
func (c *QueryCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting cache generation: %w", err)
	}
	return gen, nil
}

// Get decodes the cached value for key into dest and reports whether it was found
func (c *QueryCache) Get(ctx context.Context, gen int64, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.entryKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting cache entry: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decoding cache entry %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key for the given generation
func (c *QueryCache) Set(ctx context.Context, gen int64, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache entry %q: %w", key, err)
	}
	if err := c.client.Set(ctx, c.entryKey(gen, key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("setting cache entry: %w", err)
	}
	return nil
}

// Invalidate starts a new generation
func (c *QueryCache) Invalidate(ctx context.Context) error {
	gen, err := c.client.Incr(ctx, c.generationKey()).Result()
	if err != nil {
		return fmt.Errorf("bumping cache generation: %w", err)
	}
	c.logger.Debug("query cache invalidated", "generation", gen)
	return nil
}
