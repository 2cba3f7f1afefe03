package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/cache"
	"github.com/omers/pii-anonymizer-api/internal/events"
	"github.com/omers/pii-anonymizer-api/internal/metrics"
)

const healthCheckTimeout = 2 * time.Second

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

// handleAnonymize detects and anonymizes PII in the request text.
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r.Context())

	var req anonymizeRequest
	if err := decodeJSON(w, r, s.config.Server.MaxBodyBytes, &req); err != nil {
		s.writeRequestError(w, err)
		return
	}
	text, language, opts, err := validateAnonymize(&req, s.limits.Load())
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	result, err := s.service.Anonymize(ctx, text, language, opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.metrics.RecordResult(result)
	if s.hub != nil {
		strategy, _ := anonymizer.ParseStrategy(string(opts.Strategy))
		s.hub.PublishAnonymization(requestIDFrom(r.Context()), language, strategy, result)
	}
	log.Debug("Anonymization completed",
		zap.Int("entities", len(result.Items)),
		zap.Float64("processing_time_ms", result.ProcessingTimeMs),
	)
	writeJSON(w, http.StatusOK, result)
}

// handleDeanonymize decrypts the encrypt-strategy spans of a previous result.
func (s *Server) handleDeanonymize(w http.ResponseWriter, r *http.Request) {
	var req deanonymizeRequest
	if err := decodeJSON(w, r, s.config.Server.MaxBodyBytes, &req); err != nil {
		s.writeRequestError(w, err)
		return
	}
	if err := validateDeanonymize(&req); err != nil {
		s.writeRequestError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	text, err := s.service.Deanonymize(ctx, *req.Text, req.Items)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	restored := 0
	for _, item := range req.Items {
		if item.Strategy == anonymizer.StrategyEncrypt {
			restored++
		}
	}
	s.metrics.Deanonymizations.Add(1)
	if s.hub != nil {
		s.hub.PublishDeanonymization(requestIDFrom(r.Context()), restored)
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.config.Server.RequestTimeout > 0 {
		return context.WithTimeout(parent, s.config.Server.RequestTimeout)
	}
	return context.WithCancel(parent)
}

// writeRequestError reports decoding and validation failures.
func (s *Server) writeRequestError(w http.ResponseWriter, err error) {
	s.metrics.RequestsRejected.Add(1)

	var verr *validationError
	switch {
	case errors.Is(err, errBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", err.Error())
	case errors.As(err, &verr), anonymizer.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, "ValidationError", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
	}
}

// writeServiceError maps pipeline errors to status codes. Messages for
// server-side failures stay generic; details go to the log.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.requestLogger(r.Context())

	switch {
	case anonymizer.IsClientError(err):
		s.metrics.RequestsRejected.Add(1)
		writeError(w, http.StatusUnprocessableEntity, "ValidationError", err.Error())

	case anonymizer.IsKind(err, anonymizer.KindEncryptionUnavailable):
		s.metrics.RequestsFailed.Add(1)
		log.Error("Encryption unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "EncryptionUnavailable", "encryption is not available")

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.metrics.RequestsTimedOut.Add(1)
		log.Warn("Request timed out", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "Timeout", "request did not complete in time")

	default:
		s.metrics.RequestsFailed.Add(1)
		log.Error("Anonymization failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "AnonymizationError", "anonymization failed")
	}
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// handleHealth pings every registered dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:       "ok",
		Timestamp:    time.Now().UTC(),
		Version:      s.version,
		Dependencies: make(map[string]string, len(s.deps)),
	}
	status := http.StatusOK

	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			s.requestLogger(r.Context()).Warn("Dependency unhealthy",
				zap.String("dependency", name),
				zap.Error(err),
			)
			resp.Dependencies[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Dependencies[name] = "ok"
	}

	writeJSON(w, status, resp)
}

// InfoResponse is the /info body.
type InfoResponse struct {
	Name                string                 `json:"name"`
	Version             string                 `json:"version"`
	Configuration       map[string]interface{} `json:"configuration"`
	SupportedEntities   []string               `json:"supported_entities"`
	SupportedStrategies []anonymizer.Strategy  `json:"supported_strategies"`
	SupportedHashTypes  []anonymizer.HashType  `json:"supported_hash_types"`
}

// handleInfo reports capabilities and the non-secret configuration.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	limits := s.limits.Load()

	entities := append([]string(nil), anonymizer.SupportedEntities...)
	sort.Strings(entities)

	writeJSON(w, http.StatusOK, InfoResponse{
		Name:    Name,
		Version: s.version,
		Configuration: map[string]interface{}{
			"default_language":    limits.DefaultLanguage,
			"supported_languages": limits.SupportedLanguages,
			"max_text_length":     limits.MaxTextLength,
			"default_strategy":    limits.DefaultStrategy,
			"detector":            s.config.Detector.Type,
			"encryption_enabled":  s.service.Engine().CanEncrypt(),
			"deanonymize_enabled": s.deanonymizeEnabled(),
			"cache_enabled":       s.cache != nil,
			"rate_limit_enabled":  s.limiter != nil && s.limiter.Enabled(),
			"events_enabled":      s.hub != nil && s.config.Events.Enabled,
		},
		SupportedEntities:   entities,
		SupportedStrategies: anonymizer.SupportedStrategies,
		SupportedHashTypes:  anonymizer.SupportedHashTypes,
	})
}

// MetricsResponse is the /metrics body.
type MetricsResponse struct {
	Application metrics.Snapshot        `json:"application"`
	Process     metrics.ProcessSnapshot `json:"process"`
	System      metrics.SystemSnapshot  `json:"system"`
	Cache       *cache.CacheStats       `json:"cache,omitempty"`
	Events      *events.Stats           `json:"events,omitempty"`
}

// handleMetrics reports application counters and resource usage.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.requestLogger(ctx)

	resp := MetricsResponse{Application: s.metrics.Snapshot()}

	var err error
	if resp.Process, err = metrics.CollectProcess(ctx); err != nil {
		log.Debug("Partial process metrics", zap.Error(err))
	}
	if resp.System, err = metrics.CollectSystem(ctx); err != nil {
		log.Debug("Partial system metrics", zap.Error(err))
	}
	if s.cache != nil {
		if stats, err := s.cache.GetStats(ctx); err == nil {
			resp.Cache = stats
		} else {
			log.Warn("Failed to read cache stats", zap.Error(err))
		}
	}
	if s.hub != nil {
		stats := s.hub.GetStats()
		resp.Events = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}
