package config

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Anonymizer AnonymizerConfig `yaml:"anonymizer" mapstructure:"anonymizer"`
	Detector   DetectorConfig   `yaml:"detector" mapstructure:"detector"`
	Encryption EncryptionConfig `yaml:"encryption" mapstructure:"encryption"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are honoured. Empty means the peer address is used.
	TrustedProxies  []string      `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
}

// AnonymizerConfig contains request limits and defaults
type AnonymizerConfig struct {
	DefaultLanguage    string   `yaml:"default_language" mapstructure:"default_language"`
	SupportedLanguages []string `yaml:"supported_languages" mapstructure:"supported_languages"`
	MaxTextLength      int      `yaml:"max_text_length" mapstructure:"max_text_length"`
	DefaultStrategy    string   `yaml:"default_strategy" mapstructure:"default_strategy"`
	Concurrency        int      `yaml:"concurrency" mapstructure:"concurrency"`
}

// DetectorConfig selects and configures the PII detector
type DetectorConfig struct {
	Type           string        `yaml:"type" mapstructure:"type"` // builtin or presidio
	Recognizers    []string      `yaml:"recognizers" mapstructure:"recognizers"`
	PresidioURL    string        `yaml:"presidio_url" mapstructure:"presidio_url"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	ScoreThreshold float64       `yaml:"score_threshold" mapstructure:"score_threshold"`
}

// Fingerprint digests the settings that change detector output. Spans
// cached under one fingerprint are never served under another.
func (d DetectorConfig) Fingerprint() string {
	recognizers := make([]string, 0, len(d.Recognizers))
	for _, r := range d.Recognizers {
		recognizers = append(recognizers, strings.TrimSpace(r))
	}
	slices.Sort(recognizers)

	h := sha256.New()
	for _, part := range []string{
		d.Type,
		strings.Join(recognizers, ","),
		strconv.FormatFloat(d.ScoreThreshold, 'g', -1, 64),
		d.PresidioURL,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// EncryptionConfig contains the key for the encrypt strategy
type EncryptionConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	KeyFile          string `yaml:"key_file" mapstructure:"key_file"`
	AllowDeanonymize bool   `yaml:"allow_deanonymize" mapstructure:"allow_deanonymize"`
}

// Enabled reports whether a key source is configured.
func (e EncryptionConfig) Enabled() bool {
	return e.Key != "" || e.KeyFile != ""
}

// CacheConfig contains the Redis span cache configuration
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL     string        `yaml:"redis_url" mapstructure:"redis_url"`
	TTL          time.Duration `yaml:"ttl" mapstructure:"ttl"`
	KeyPrefix    string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// RateLimitConfig contains per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// EventsConfig contains WebSocket event stream configuration
type EventsConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// BatchConfig contains batch command configuration
type BatchConfig struct {
	Workers   int `yaml:"workers" mapstructure:"workers"`
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORSOrigins:     []string{"*"},
			TrustedProxies:  []string{},
		},
		Anonymizer: AnonymizerConfig{
			DefaultLanguage:    "en",
			SupportedLanguages: []string{"en", "es", "fr", "de", "it"},
			MaxTextLength:      10000,
			DefaultStrategy:    "replace",
			Concurrency:        4,
		},
		Detector: DetectorConfig{
			Type:           "builtin",
			Recognizers:    []string{"all"},
			PresidioURL:    "http://localhost:5002",
			Timeout:        5 * time.Second,
			ScoreThreshold: 0.35,
		},
		Cache: CacheConfig{
			Enabled:      false,
			RedisURL:     "redis://localhost:6379/0",
			TTL:          10 * time.Minute,
			KeyPrefix:    "pii",
			PoolSize:     10,
			MinIdleConns: 2,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 600,
			Burst:          50,
		},
		Events: EventsConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"*"},
		},
		Batch: BatchConfig{
			Workers:   4,
			BatchSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
	cfg.Logging.File.Path = "logs/pii-anonymizer.log"
	return cfg
}
