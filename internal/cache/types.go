package cache

import "time"

// CachedSpan is a detected span without its text. Only offsets, labels and
// scores are stored, never the PII itself.
type CachedSpan struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Errors      int64   `json:"errors"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	RedisURL     string        `yaml:"redis_url" mapstructure:"redis_url"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	TTL          time.Duration `yaml:"ttl" mapstructure:"ttl"`
	KeyPrefix    string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	// Namespace identifies the detector configuration whose output is
	// cached. Changing it invalidates every stored entry.
	Namespace    string        `yaml:"-" mapstructure:"-"`
}
