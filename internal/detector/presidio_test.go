package detector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/config"
	"github.com/omers/pii-anonymizer-api/internal/logger"
)

func TestPresidioDetect(t *testing.T) {
	requests := make(chan presidioRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req presidioRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		requests <- req
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]presidioResult{
			{EntityType: "PERSON", Start: 0, End: 8, Score: 0.85},
			{EntityType: "EMAIL_ADDRESS", Start: 20, End: 36, Score: 1.0},
			{EntityType: "URL", Start: 30, End: 90, Score: 0.5},
		})
	}))
	defer server.Close()

	p := NewPresidio(server.URL+"/", []string{"all"}, 0.4, time.Second, logger.NewNop())
	text := "John Doe's email is john@example.com"

	entities, err := p.Detect(context.Background(), text, "en")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	got := <-requests
	if got.Text != text || got.Language != "en" {
		t.Errorf("Unexpected request %+v", got)
	}
	if got.Entities != nil {
		t.Errorf("Expected no entity filter for \"all\", got %v", got.Entities)
	}
	if got.ScoreThreshold != 0.4 {
		t.Errorf("Expected score threshold 0.4, got %v", got.ScoreThreshold)
	}

	if len(entities) != 3 {
		t.Fatalf("Expected 3 entities, got %d", len(entities))
	}
	if entities[0].Text != "John Doe" || entities[1].Text != "john@example.com" {
		t.Errorf("Span text not filled: %+v", entities[:2])
	}
	if entities[2].Text != "" {
		t.Errorf("Out-of-range span should carry no text, got %q", entities[2].Text)
	}

	// The out-of-range span is dropped by the engine, not by the detector.
	result, err := anonymizer.NewEngine().Run(context.Background(), text, entities, anonymizer.DefaultOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.AnonymizedText != "<PERSON>'s email is <EMAIL_ADDRESS>" {
		t.Errorf("Unexpected output %q", result.AnonymizedText)
	}
}

func TestPresidioErrors(t *testing.T) {
	t.Run("Non200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		p := NewPresidio(server.URL, nil, 0, time.Second, logger.NewNop())
		if _, err := p.Detect(context.Background(), "x", "en"); err == nil {
			t.Error("Expected error for 500 response")
		}
	})

	t.Run("BadJSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}))
		defer server.Close()

		p := NewPresidio(server.URL, nil, 0, time.Second, logger.NewNop())
		if _, err := p.Detect(context.Background(), "x", "en"); err == nil {
			t.Error("Expected decode error")
		}
	})

	t.Run("Deadline", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		p := NewPresidio(server.URL, nil, 0, 5*time.Second, logger.NewNop())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := p.Detect(ctx, "x", "en")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	})
}

func TestPresidioPing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("Presidio Analyzer service is up"))
	}))
	defer server.Close()

	p := NewPresidio(server.URL, nil, 0, time.Second, logger.NewNop())
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Expected healthy analyzer, got %v", err)
	}

	healthy.Store(false)
	if err := p.Ping(context.Background()); err == nil {
		t.Error("Expected error for unhealthy analyzer")
	}
}

func TestNewDetector(t *testing.T) {
	log := logger.NewNop()

	d, err := New(config.DetectorConfig{Type: "builtin", Recognizers: []string{"all"}}, log)
	if err != nil {
		t.Fatalf("New builtin failed: %v", err)
	}
	if _, ok := d.(*Builtin); !ok {
		t.Errorf("Expected *Builtin, got %T", d)
	}

	d, err = New(config.DetectorConfig{Type: "presidio", PresidioURL: "http://analyzer:3000"}, log)
	if err != nil {
		t.Fatalf("New presidio failed: %v", err)
	}
	if _, ok := d.(Pinger); !ok {
		t.Errorf("Presidio detector should implement Pinger")
	}

	if _, err := New(config.DetectorConfig{Type: "presidio"}, log); err == nil {
		t.Error("Expected error for presidio without url")
	}
	if _, err := New(config.DetectorConfig{Type: "spacy"}, log); err == nil {
		t.Error("Expected error for unknown type")
	}
}
