package anonymizer

import (
	"context"
	"fmt"

	"github.com/omers/pii-anonymizer-api/internal/logger"
	"go.uber.org/zap"
)

// Detector finds PII spans in text. Offsets in the returned entities are
// character offsets into text.
type Detector interface {
	Detect(ctx context.Context, text, language string) ([]DetectedEntity, error)
}

// Service runs detection followed by anonymization.
type Service struct {
	detector Detector
	engine   *Engine
	logger   *logger.Logger
}

// NewService creates a Service over the given detector and engine.
func NewService(detector Detector, engine *Engine, log *logger.Logger) *Service {
	return &Service{
		detector: detector,
		engine:   engine,
		logger:   log.WithComponent("anonymizer"),
	}
}

// Engine returns the underlying strategy engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Anonymize detects entities in text and applies opts to them.
// Options and text encoding are validated before the detector is called.
func (s *Service) Anonymize(ctx context.Context, text, language string, opts Options) (*Result, error) {
	opts = opts.WithDefaults()
	strategy, _, err := s.engine.resolve(opts)
	if err != nil {
		return nil, err
	}
	if err := checkText(text); err != nil {
		return nil, err
	}

	entities, err := s.detector.Detect(ctx, text, language)
	if err != nil {
		if isContextErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("detect entities: %w", err)
	}

	result, err := s.engine.Run(ctx, text, entities, opts)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Text anonymized",
		zap.String("strategy", string(strategy)),
		zap.String("language", language),
		zap.Int("detected", len(result.DetectedEntities)),
		zap.Int("applied", len(result.Items)),
		zap.Int("original_length", result.OriginalLength),
		zap.Float64("processing_time_ms", result.ProcessingTimeMs),
	)
	return result, nil
}

// Deanonymize reverses the encrypt items of a previous result.
func (s *Service) Deanonymize(ctx context.Context, text string, items []AppliedTransform) (string, error) {
	return s.engine.Deanonymize(ctx, text, items)
}
