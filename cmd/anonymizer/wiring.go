package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/cache"
	"github.com/omers/pii-anonymizer-api/internal/config"
	"github.com/omers/pii-anonymizer-api/internal/detector"
	"github.com/omers/pii-anonymizer-api/internal/encryption"
	"github.com/omers/pii-anonymizer-api/internal/logger"
)

// loadConfig reads the configuration and applies command line overrides.
func loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(flagConfig)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	return loader, cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// pipeline is the detector, engine and their long-lived collaborators.
type pipeline struct {
	service  *anonymizer.Service
	detector anonymizer.Detector
	cache    *cache.SpanCache
	closers  []io.Closer
}

func (p *pipeline) Close() {
	for _, c := range p.closers {
		c.Close()
	}
}

// buildPipeline wires the configured detector, the optional span cache and
// the optional cipher into a Service.
func buildPipeline(cfg *config.Config, log *logger.Logger) (*pipeline, error) {
	p := &pipeline{}

	det, err := detector.New(cfg.Detector, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}

	if cfg.Cache.Enabled {
		spans, err := cache.NewSpanCache(&cache.Config{
			RedisURL:     cfg.Cache.RedisURL,
			PoolSize:     cfg.Cache.PoolSize,
			MinIdleConns: cfg.Cache.MinIdleConns,
			TTL:          cfg.Cache.TTL,
			KeyPrefix:    cfg.Cache.KeyPrefix,
			Namespace:    cfg.Detector.Fingerprint(),
		}, log.WithComponent("cache").Logger)
		if err != nil {
			// Run uncached while Redis is unreachable.
			log.Warn("Span cache unavailable, continuing without it", zap.Error(err))
		} else {
			p.cache = spans
			p.closers = append(p.closers, spans)
			det = detector.NewCached(det, spans, log)
		}
	}
	p.detector = det

	engineOpts := []anonymizer.EngineOption{
		anonymizer.WithConcurrency(cfg.Anonymizer.Concurrency),
		anonymizer.WithLogger(log.WithComponent("engine").Logger),
	}
	if cfg.Encryption.Enabled() {
		cipher, err := newCipher(cfg.Encryption)
		if err != nil {
			p.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, anonymizer.WithEncrypter(cipher))
		if cfg.Encryption.AllowDeanonymize {
			engineOpts = append(engineOpts, anonymizer.WithDecrypter(cipher))
		}
	}

	p.service = anonymizer.NewService(det, anonymizer.NewEngine(engineOpts...), log)
	return p, nil
}

func newCipher(cfg config.EncryptionConfig) (*encryption.Cipher, error) {
	var (
		key []byte
		err error
	)
	if cfg.KeyFile != "" {
		key, err = encryption.LoadKey(cfg.KeyFile)
	} else {
		key, err = encryption.ParseKey(cfg.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %w", err)
	}

	cipher, err := encryption.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher, nil
}
