package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SpanCache stores detector output in Redis keyed by a digest of
// (detector namespace, language, text). Lookup failures degrade to a miss.
type SpanCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewSpanCache creates a new Redis-based span cache
func NewSpanCache(config *Config, logger *zap.Logger) (*SpanCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	cache := &SpanCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.Ping(ctx); err != nil {
		cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Span cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("pool_size", opts.PoolSize),
		zap.Duration("ttl", config.TTL))

	return cache, nil
}

// Ping tests the Redis connection
func (c *SpanCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached spans for (language, text).
func (c *SpanCache) Get(ctx context.Context, language, text string) ([]CachedSpan, bool) {
	key := c.key(language, text)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false
	} else if err != nil {
		c.errors.Add(1)
		c.logger.Warn("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	var spans []CachedSpan
	if err := json.Unmarshal(data, &spans); err != nil {
		c.errors.Add(1)
		c.logger.Error("Failed to unmarshal cached spans", zap.Error(err))
		// Delete corrupted cache entry
		c.client.Del(ctx, key)
		return nil, false
	}

	c.hits.Add(1)
	c.logger.Debug("Cache hit", zap.String("key", key), zap.Int("spans", len(spans)))
	return spans, true
}

// Store caches spans for (language, text) with the configured TTL.
func (c *SpanCache) Store(ctx context.Context, language, text string, spans []CachedSpan) error {
	key := c.key(language, text)

	data, err := json.Marshal(spans)
	if err != nil {
		return fmt.Errorf("failed to marshal spans for caching: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("failed to cache spans: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics
func (c *SpanCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get Redis info: %w", err)
	}
	stats.MemoryUsage = parseUsedMemory(info)

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}
	return stats, nil
}

// Clear removes all cached spans under the key prefix
func (c *SpanCache) Clear(ctx context.Context) (int, error) {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+":spans:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return i, fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return len(keys), nil
}

// Close closes the Redis connection
func (c *SpanCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *SpanCache) key(language, text string) string {
	return spanKey(c.config.KeyPrefix, c.config.Namespace, language, text)
}

// spanKey derives the cache key. The text only enters through its digest.
func spanKey(prefix, namespace, language, text string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return fmt.Sprintf("%s:spans:%s", prefix, hex.EncodeToString(h.Sum(nil)))
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
