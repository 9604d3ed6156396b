package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379).
	URL string

	// Password for Redis authentication. Overrides the URL password when set.
	Password string

	// DB is the Redis database number.
	DB int

	// KeyPrefix is prepended to all keys.
	KeyPrefix string

	// DefaultTTL is the default expiration for keys.
	DefaultTTL time.Duration

	// PoolSize is the connection pool size.
	PoolSize int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// ReadTimeout is the read operation timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the write operation timeout.
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          "redis://localhost:6379",
		DB:           0,
		KeyPrefix:    "appledex:",
		DefaultTTL:   5 * time.Minute,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisCache implements Cache using Redis as the backend.
type RedisCache struct {
	cfg    RedisConfig
	client *redis.Client
	stats  Stats
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisCache{cfg: cfg, client: client}, nil
}

// Get retrieves a value by key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, ErrNotFound
	}
	if err != nil {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, fmt.Errorf("redis get: %w", err)
	}
	atomic.AddInt64(&c.stats.Hits, 1)
	return val, nil
}

// Set stores a value with optional TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefixKey(key), value, c.getTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	atomic.AddInt64(&c.stats.Sets, 1)
	return nil
}

// Delete removes a key from the cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	n, err := c.client.Del(ctx, c.prefixKey(key)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	atomic.AddInt64(&c.stats.Deletes, 1)
	return nil
}

// Has checks if a key exists.
func (c *RedisCache) Has(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, c.prefixKey(key)).Result()
	return err == nil && n > 0
}

// Clear removes all entries with the configured prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.cfg.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis clear: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Stats returns client-side cache statistics. Redis-side counters are
// exposed by the server itself.
func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:    atomic.LoadInt64(&c.stats.Hits),
		Misses:  atomic.LoadInt64(&c.stats.Misses),
		Sets:    atomic.LoadInt64(&c.stats.Sets),
		Deletes: atomic.LoadInt64(&c.stats.Deletes),
	}
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// prefixKey adds the configured prefix to a key.
func (c *RedisCache) prefixKey(key string) string {
	return c.cfg.KeyPrefix + key
}

// getTTL returns the TTL to use, falling back to default.
func (c *RedisCache) getTTL(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}
