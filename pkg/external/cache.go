package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trial-matcher-server/internal/domain"
)

// ResponseCache stores generated text keyed by prompt fingerprint.
type ResponseCache interface {
	GetText(ctx context.Context, key string) (string, bool, error)
	SetText(ctx context.Context, key, value string, ttl time.Duration) error
}

// CacheClient wraps Redis client with caching functionality for external API responses
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
	prefix     string
}

// cachedText represents cached text with metadata
type cachedText struct {
	Value     string    `json:"value"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCacheClient creates a new cache client
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewCacheClientWithRedis(client, config.DefaultTTL), nil
}

// NewCacheClientWithRedis wraps an existing Redis client.
func NewCacheClientWithRedis(client *redis.Client, defaultTTL time.Duration) *CacheClient {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &CacheClient{
		redis:      client,
		defaultTTL: defaultTTL,
		prefix:     "trialmatch",
	}
}

// GetText retrieves a cached value
func (c *CacheClient) GetText(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil // Cache miss
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cached value: %w", err)
	}

	var cached cachedText
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	return cached.Value, true, nil
}

// SetText caches a value; a zero ttl uses the client default.
func (c *CacheClient) SetText(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	data, err := json.Marshal(cachedText{
		Value:     value,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	return c.redis.Set(ctx, key, data, ttl).Err()
}

// Key builds a namespaced key from a kind and the hash of its parts.
func (c *CacheClient) Key(kind string, parts ...string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, kind, fingerprint(parts...))
}

// Ping checks the Redis connection.
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

func fingerprint(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:16])
}
