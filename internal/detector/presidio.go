package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/logger"
	"go.uber.org/zap"
)

// Presidio delegates detection to a Presidio analyzer service.
type Presidio struct {
	analyzerURL    string
	entities       []string
	scoreThreshold float64
	client         *http.Client
	logger         *logger.Logger
}

// NewPresidio creates a detector for the analyzer at analyzerURL. A nil or
// "all" entity list asks the analyzer for every entity it knows.
func NewPresidio(analyzerURL string, entities []string, scoreThreshold float64, timeout time.Duration, log *logger.Logger) *Presidio {
	if len(entities) == 1 && entities[0] == "all" {
		entities = nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Presidio{
		analyzerURL:    strings.TrimRight(analyzerURL, "/"),
		entities:       entities,
		scoreThreshold: scoreThreshold,
		client:         &http.Client{Timeout: timeout},
		logger:         log.WithComponent("presidio"),
	}
}

type presidioRequest struct {
	Text           string   `json:"text"`
	Language       string   `json:"language"`
	Entities       []string `json:"entities,omitempty"`
	ScoreThreshold float64  `json:"score_threshold,omitempty"`
}

type presidioResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Detect posts text to {url}/analyze. Analyzer offsets are character
// offsets; spans outside the text are returned without Text and are
// dropped as malformed downstream.
func (p *Presidio) Detect(ctx context.Context, text, language string) ([]anonymizer.DetectedEntity, error) {
	body, err := json.Marshal(presidioRequest{
		Text:           text,
		Language:       language,
		Entities:       p.entities,
		ScoreThreshold: p.scoreThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.analyzerURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("presidio analyzer unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("presidio returned %d", resp.StatusCode)
	}

	var results []presidioResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode analyzer response: %w", err)
	}

	runes := []rune(text)
	entities := make([]anonymizer.DetectedEntity, 0, len(results))
	for _, r := range results {
		e := anonymizer.DetectedEntity{
			EntityType: r.EntityType,
			Start:      r.Start,
			End:        r.End,
			Score:      r.Score,
		}
		if r.Start >= 0 && r.Start < r.End && r.End <= len(runes) {
			e.Text = string(runes[r.Start:r.End])
		}
		entities = append(entities, e)
	}

	p.logger.Debug("Presidio analysis completed",
		zap.String("language", language),
		zap.Int("entities", len(entities)),
		zap.Duration("duration", time.Since(start)),
	)
	return entities, nil
}

// Ping checks the analyzer's health endpoint.
func (p *Presidio) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.analyzerURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("presidio analyzer unavailable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("presidio health returned %d", resp.StatusCode)
	}
	return nil
}
