package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
)

// EnvPrefix prefixes every environment override, e.g. PII_SERVER_PORT.
const EnvPrefix = "PII"

// Loader reads configuration from defaults, an optional YAML file and the
// environment, and can watch the file for changes.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. An empty configPath searches the default
// locations for config.yaml.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	setDefaults(v, GetDefaults())

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-anonymizer/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads, decodes and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.decode()
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	config := &Config{}
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Watch reloads the configuration file on change. Valid configurations are
// passed to callback; decode and validation failures go to onError and the
// previous configuration stays in effect.
func (l *Loader) Watch(callback func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		callback(newConfig)
	})
	l.v.WatchConfig()
}

// setDefaults registers every key so that environment overrides apply
// even when no config file is present.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.trusted_proxies", d.Server.TrustedProxies)

	v.SetDefault("anonymizer.default_language", d.Anonymizer.DefaultLanguage)
	v.SetDefault("anonymizer.supported_languages", d.Anonymizer.SupportedLanguages)
	v.SetDefault("anonymizer.max_text_length", d.Anonymizer.MaxTextLength)
	v.SetDefault("anonymizer.default_strategy", d.Anonymizer.DefaultStrategy)
	v.SetDefault("anonymizer.concurrency", d.Anonymizer.Concurrency)

	v.SetDefault("detector.type", d.Detector.Type)
	v.SetDefault("detector.recognizers", d.Detector.Recognizers)
	v.SetDefault("detector.presidio_url", d.Detector.PresidioURL)
	v.SetDefault("detector.timeout", d.Detector.Timeout)
	v.SetDefault("detector.score_threshold", d.Detector.ScoreThreshold)

	v.SetDefault("encryption.key", d.Encryption.Key)
	v.SetDefault("encryption.key_file", d.Encryption.KeyFile)
	v.SetDefault("encryption.allow_deanonymize", d.Encryption.AllowDeanonymize)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.key_prefix", d.Cache.KeyPrefix)
	v.SetDefault("cache.pool_size", d.Cache.PoolSize)
	v.SetDefault("cache.min_idle_conns", d.Cache.MinIdleConns)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_min", d.RateLimit.RequestsPerMin)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)

	v.SetDefault("events.enabled", d.Events.Enabled)
	v.SetDefault("events.path", d.Events.Path)
	v.SetDefault("events.max_connections", d.Events.MaxConnections)
	v.SetDefault("events.read_buffer_size", d.Events.ReadBufferSize)
	v.SetDefault("events.write_buffer_size", d.Events.WriteBufferSize)
	v.SetDefault("events.ping_interval", d.Events.PingInterval)
	v.SetDefault("events.pong_timeout", d.Events.PongTimeout)
	v.SetDefault("events.write_timeout", d.Events.WriteTimeout)
	v.SetDefault("events.max_message_size", d.Events.MaxMessageSize)
	v.SetDefault("events.allowed_origins", d.Events.AllowedOrigins)

	v.SetDefault("batch.workers", d.Batch.Workers)
	v.SetDefault("batch.batch_size", d.Batch.BatchSize)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file.enabled", d.Logging.File.Enabled)
	v.SetDefault("logging.file.path", d.Logging.File.Path)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout: %s", config.Server.RequestTimeout)
	}
	if _, err := ParseTrustedProxies(config.Server.TrustedProxies); err != nil {
		return err
	}

	a := config.Anonymizer
	if a.MaxTextLength <= 0 {
		return fmt.Errorf("invalid max text length: %d", a.MaxTextLength)
	}
	if len(a.SupportedLanguages) == 0 {
		return fmt.Errorf("at least one supported language is required")
	}
	if !contains(a.SupportedLanguages, a.DefaultLanguage) {
		return fmt.Errorf("default language %q is not in supported languages %v", a.DefaultLanguage, a.SupportedLanguages)
	}
	if _, err := anonymizer.ParseStrategy(a.DefaultStrategy); err != nil {
		return fmt.Errorf("invalid default strategy: %w", err)
	}

	switch config.Detector.Type {
	case "builtin":
	case "presidio":
		if config.Detector.PresidioURL == "" {
			return fmt.Errorf("detector.presidio_url is required for the presidio detector")
		}
	default:
		return fmt.Errorf("invalid detector type: %s (must be builtin or presidio)", config.Detector.Type)
	}
	if config.Detector.ScoreThreshold < 0 || config.Detector.ScoreThreshold > 1 {
		return fmt.Errorf("invalid score threshold: %v (must be within [0, 1])", config.Detector.ScoreThreshold)
	}

	if config.Encryption.AllowDeanonymize && !config.Encryption.Enabled() {
		return fmt.Errorf("encryption.allow_deanonymize requires encryption.key or encryption.key_file")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when the cache is enabled")
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerMin <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %d/min burst %d", config.RateLimit.RequestsPerMin, config.RateLimit.Burst)
	}

	if config.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d", config.Batch.Workers)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// ParseTrustedProxies parses IPs and CIDRs. A bare IP becomes a single-host prefix.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
