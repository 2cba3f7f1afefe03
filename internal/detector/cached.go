package detector

import (
	"context"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/cache"
	"github.com/omers/pii-anonymizer-api/internal/logger"
	"go.uber.org/zap"
)

// SpanStore is the cache backend used by Cached.
type SpanStore interface {
	Get(ctx context.Context, language, text string) ([]cache.CachedSpan, bool)
	Store(ctx context.Context, language, text string, spans []cache.CachedSpan) error
}

// Cached memoizes another detector's spans per (language, text).
// Span text is rebuilt from the request text on a hit.
type Cached struct {
	next   anonymizer.Detector
	store  SpanStore
	logger *logger.Logger
}

// NewCached wraps next with store.
func NewCached(next anonymizer.Detector, store SpanStore, log *logger.Logger) *Cached {
	return &Cached{
		next:   next,
		store:  store,
		logger: log.WithComponent("detector_cache"),
	}
}

// Detect serves from the cache when possible and fills it on a miss.
// A failed store is logged and does not fail the request.
func (c *Cached) Detect(ctx context.Context, text, language string) ([]anonymizer.DetectedEntity, error) {
	if spans, ok := c.store.Get(ctx, language, text); ok {
		return fromCached(text, spans), nil
	}

	entities, err := c.next.Detect(ctx, text, language)
	if err != nil {
		return nil, err
	}

	if err := c.store.Store(ctx, language, text, toCached(entities)); err != nil {
		c.logger.Warn("Failed to cache spans", zap.Error(err))
	}
	return entities, nil
}

// Ping forwards to the wrapped detector when it supports health checks.
func (c *Cached) Ping(ctx context.Context) error {
	if p, ok := c.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func toCached(entities []anonymizer.DetectedEntity) []cache.CachedSpan {
	spans := make([]cache.CachedSpan, len(entities))
	for i, e := range entities {
		spans[i] = cache.CachedSpan{
			EntityType: e.EntityType,
			Start:      e.Start,
			End:        e.End,
			Score:      e.Score,
		}
	}
	return spans
}

func fromCached(text string, spans []cache.CachedSpan) []anonymizer.DetectedEntity {
	runes := []rune(text)
	entities := make([]anonymizer.DetectedEntity, len(spans))
	for i, s := range spans {
		entities[i] = anonymizer.DetectedEntity{
			EntityType: s.EntityType,
			Start:      s.Start,
			End:        s.End,
			Score:      s.Score,
		}
		if s.Start >= 0 && s.Start < s.End && s.End <= len(runes) {
			entities[i].Text = string(runes[s.Start:s.End])
		}
	}
	return entities
}
