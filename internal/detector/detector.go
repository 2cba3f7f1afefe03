// Package detector provides the PII detectors behind anonymizer.Detector:
// builtin regex recognizers, a Presidio analyzer client, and a span cache.
package detector

import (
	"context"
	"fmt"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/config"
	"github.com/omers/pii-anonymizer-api/internal/logger"
)

// Pinger is implemented by detectors backed by an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New creates the detector selected by cfg.Type.
func New(cfg config.DetectorConfig, log *logger.Logger) (anonymizer.Detector, error) {
	switch cfg.Type {
	case "", "builtin":
		return NewBuiltin(cfg.Recognizers, log)
	case "presidio":
		if cfg.PresidioURL == "" {
			return nil, fmt.Errorf("presidio detector requires presidio_url")
		}
		return NewPresidio(cfg.PresidioURL, cfg.Recognizers, cfg.ScoreThreshold, cfg.Timeout, log), nil
	}
	return nil, fmt.Errorf("unknown detector type: %s", cfg.Type)
}
