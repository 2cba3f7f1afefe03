package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/config"
	"github.com/omers/pii-anonymizer-api/internal/encryption"
	"github.com/omers/pii-anonymizer-api/internal/events"
	"github.com/omers/pii-anonymizer-api/internal/logger"
	"github.com/omers/pii-anonymizer-api/internal/metrics"
	"github.com/omers/pii-anonymizer-api/internal/ratelimit"
)

const sampleText = "John Doe's email is john@example.com"

// stubDetector finds the sample PERSON and EMAIL_ADDRESS spans.
type stubDetector struct {
	mu           sync.Mutex
	err          error
	block        bool
	calls        int
	lastLanguage string
}

func (d *stubDetector) Detect(ctx context.Context, text, language string) ([]anonymizer.DetectedEntity, error) {
	d.mu.Lock()
	d.calls++
	d.lastLanguage = language
	d.mu.Unlock()

	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}

	var out []anonymizer.DetectedEntity
	if i := strings.Index(text, "John Doe"); i >= 0 {
		e, _ := anonymizer.NewDetectedEntity(text, "PERSON", i, i+8, 0.85)
		out = append(out, e)
	}
	if i := strings.Index(text, "john@example.com"); i >= 0 {
		e, _ := anonymizer.NewDetectedEntity(text, "EMAIL_ADDRESS", i, i+16, 1.0)
		out = append(out, e)
	}
	return out, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	*Server
	detector *stubDetector
	metrics  *metrics.Metrics
}

func newTestServer(t *testing.T, mutate func(*config.Config), opts ...Option) *testServer {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	var engineOpts []anonymizer.EngineOption
	if cfg.Encryption.Key != "" {
		key, err := encryption.ParseKey(cfg.Encryption.Key)
		if err != nil {
			t.Fatalf("ParseKey failed: %v", err)
		}
		cipher, err := encryption.New(key)
		if err != nil {
			t.Fatalf("encryption.New failed: %v", err)
		}
		engineOpts = append(engineOpts, anonymizer.WithEncrypter(cipher))
		if cfg.Encryption.AllowDeanonymize {
			engineOpts = append(engineOpts, anonymizer.WithDecrypter(cipher))
		}
	}

	det := &stubDetector{}
	log := logger.NewNop()
	service := anonymizer.NewService(det, anonymizer.NewEngine(engineOpts...), log)
	m := metrics.New()
	opts = append([]Option{WithMetrics(m), WithVersion("test")}, opts...)

	return &testServer{
		Server:   New(cfg, service, log, opts...),
		detector: det,
		metrics:  m,
	}
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return v
}

func jsonBody(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestAnonymizeEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("DefaultReplace", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/anonymize", jsonBody(t, map[string]string{"text": sampleText}))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		res := decode[anonymizer.Result](t, rec)
		if res.AnonymizedText != "<PERSON>'s email is <EMAIL_ADDRESS>" {
			t.Errorf("Unexpected text %q", res.AnonymizedText)
		}
		if res.OriginalLength != 36 || len(res.Items) != 2 || len(res.DetectedEntities) != 2 {
			t.Errorf("Unexpected result %+v", res)
		}
		if ts.detector.lastLanguage != "en" {
			t.Errorf("Expected default language en, got %q", ts.detector.lastLanguage)
		}
	})

	t.Run("Mask", func(t *testing.T) {
		body := jsonBody(t, map[string]interface{}{
			"text":     sampleText,
			"language": "fr",
			"config":   map[string]string{"strategy": "mask"},
		})
		rec := ts.do(http.MethodPost, "/anonymize", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		res := decode[anonymizer.Result](t, rec)
		if res.AnonymizedText != "********'s email is ****************" {
			t.Errorf("Unexpected text %q", res.AnonymizedText)
		}
		if ts.detector.lastLanguage != "fr" {
			t.Errorf("Expected language fr, got %q", ts.detector.lastLanguage)
		}
	})

	t.Run("EntityFilter", func(t *testing.T) {
		body := jsonBody(t, map[string]interface{}{
			"text":   sampleText,
			"config": map[string]interface{}{"entities_to_anonymize": []string{"EMAIL_ADDRESS"}},
		})
		res := decode[anonymizer.Result](t, ts.do(http.MethodPost, "/anonymize", body))
		if res.AnonymizedText != "John Doe's email is <EMAIL_ADDRESS>" {
			t.Errorf("Unexpected text %q", res.AnonymizedText)
		}
	})

	t.Run("DefaultStrategyFromConfig", func(t *testing.T) {
		ts := newTestServer(t, func(c *config.Config) { c.Anonymizer.DefaultStrategy = "redact" })
		res := decode[anonymizer.Result](t, ts.do(http.MethodPost, "/anonymize", jsonBody(t, map[string]string{"text": sampleText})))
		if res.AnonymizedText != "'s email is " {
			t.Errorf("Unexpected text %q", res.AnonymizedText)
		}
	})
}

func TestAnonymizeValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"MissingText", `{"language":"en"}`, http.StatusUnprocessableEntity},
		{"EmptyText", `{"text":""}`, http.StatusUnprocessableEntity},
		{"TooLong", jsonBody(t, map[string]string{"text": strings.Repeat("a", 21)}), http.StatusUnprocessableEntity},
		{"UnsupportedLanguage", `{"text":"hello","language":"xx"}`, http.StatusUnprocessableEntity},
		{"MalformedJSON", `{"text":`, http.StatusUnprocessableEntity},
		{"EmptyBody", ``, http.StatusUnprocessableEntity},
		{"UnknownStrategy", `{"text":"hello","config":{"strategy":"shred"}}`, http.StatusUnprocessableEntity},
		{"UnknownEntity", `{"text":"hello","config":{"entities_to_anonymize":["PET_NAME"]}}`, http.StatusUnprocessableEntity},
		{"BadMaskChar", `{"text":"hello","config":{"strategy":"mask","mask_char":"**"}}`, http.StatusUnprocessableEntity},
		{"BadHashType", `{"text":"hello","config":{"strategy":"hash","hash_type":"crc32"}}`, http.StatusUnprocessableEntity},
		{"BadHashTypeWithReplace", `{"text":"hello","config":{"strategy":"replace","hash_type":"sha1"}}`, http.StatusUnprocessableEntity},
	}

	ts := newTestServer(t, func(c *config.Config) { c.Anonymizer.MaxTextLength = 20 })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/anonymize", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			resp := decode[errorResponse](t, rec)
			if resp.Error != "ValidationError" || resp.Message == "" {
				t.Errorf("Unexpected error body %+v", resp)
			}
		})
	}

	if ts.detector.calls != 0 {
		t.Errorf("Detector should not run for invalid requests, ran %d times", ts.detector.calls)
	}
	if got := ts.metrics.Snapshot().Requests.Rejected; got != int64(len(tests)) {
		t.Errorf("Expected %d rejected requests, got %d", len(tests), got)
	}
}

func TestAnonymizeLengthCountsCharacters(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Anonymizer.MaxTextLength = 5 })
	// Five characters, ten bytes.
	rec := ts.do(http.MethodPost, "/anonymize", jsonBody(t, map[string]string{"text": "ééééé"}))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for 5 characters, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAnonymizeErrors(t *testing.T) {
	t.Run("EncryptWithoutKey", func(t *testing.T) {
		ts := newTestServer(t, nil)
		rec := ts.do(http.MethodPost, "/anonymize", `{"text":"hello","config":{"strategy":"encrypt"}}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("Expected 503, got %d: %s", rec.Code, rec.Body.String())
		}
		if ts.detector.calls != 0 {
			t.Error("Detector should not run when encryption is unavailable")
		}
	})

	t.Run("DetectorFailure", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.detector.err = errors.New("analyzer at http://10.0.0.5 refused connection")

		rec := ts.do(http.MethodPost, "/anonymize", jsonBody(t, map[string]string{"text": sampleText}))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("Expected 500, got %d", rec.Code)
		}
		resp := decode[errorResponse](t, rec)
		if resp.Error != "AnonymizationError" {
			t.Errorf("Unexpected error kind %q", resp.Error)
		}
		if strings.Contains(rec.Body.String(), "10.0.0.5") || strings.Contains(rec.Body.String(), "John") {
			t.Errorf("Error body leaks details: %s", rec.Body.String())
		}
		if ts.metrics.Snapshot().Requests.Failed != 1 {
			t.Error("Expected failed request to be counted")
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		ts := newTestServer(t, func(c *config.Config) { c.Server.RequestTimeout = 20 * time.Millisecond })
		ts.detector.block = true

		rec := ts.do(http.MethodPost, "/anonymize", jsonBody(t, map[string]string{"text": sampleText}))
		if rec.Code != http.StatusGatewayTimeout {
			t.Fatalf("Expected 504, got %d", rec.Code)
		}
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		ts := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 16 })
		rec := ts.do(http.MethodPost, "/anonymize", jsonBody(t, map[string]string{"text": sampleText}))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("Expected 413, got %d", rec.Code)
		}
	})

	t.Run("WrongMethod", func(t *testing.T) {
		ts := newTestServer(t, nil)
		if rec := ts.do(http.MethodGet, "/anonymize", ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", rec.Code)
		}
	})
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.New(config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1})
	// httptest requests come from 192.0.2.1.
	ts := newTestServer(t, func(c *config.Config) {
		c.Server.TrustedProxies = []string{"192.0.2.0/24"}
	}, WithRateLimiter(limiter))
	body := jsonBody(t, map[string]string{"text": "hello"})

	if rec := ts.do(http.MethodPost, "/anonymize", body); rec.Code != http.StatusOK {
		t.Fatalf("First request should pass, got %d", rec.Code)
	}
	rec := ts.do(http.MethodPost, "/anonymize", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	// Another client has its own bucket.
	if rec := ts.do(http.MethodPost, "/anonymize", body, "X-Forwarded-For", "203.0.113.9"); rec.Code != http.StatusOK {
		t.Errorf("Other client should pass, got %d", rec.Code)
	}
	// Health is not rate limited.
	if rec := ts.do(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("Health should not be limited, got %d", rec.Code)
	}
	if ts.metrics.Snapshot().Requests.RateLimited != 1 {
		t.Error("Expected rate limited request to be counted")
	}
}

func TestRateLimitIgnoresSpoofedForwarding(t *testing.T) {
	limiter := ratelimit.New(config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1})
	ts := newTestServer(t, nil, WithRateLimiter(limiter))
	body := jsonBody(t, map[string]string{"text": "hello"})

	if rec := ts.do(http.MethodPost, "/anonymize", body, "X-Forwarded-For", "198.51.100.1"); rec.Code != http.StatusOK {
		t.Fatalf("First request should pass, got %d", rec.Code)
	}
	for _, spoofed := range []string{"198.51.100.2", "198.51.100.3"} {
		rec := ts.do(http.MethodPost, "/anonymize", body, "X-Forwarded-For", spoofed, "X-Real-IP", spoofed)
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("Rotating forwarding headers must not reset the bucket, got %d", rec.Code)
		}
	}
}

func TestClientIP(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Server.TrustedProxies = []string{"10.0.0.0/8"}
	})

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"DirectPeer", "203.0.113.5:4000", nil, "203.0.113.5"},
		{"UntrustedPeerHeadersIgnored", "203.0.113.5:4000", map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "1.2.3.4"}, "203.0.113.5"},
		{"TrustedPeerForwarded", "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "198.51.100.7"}, "198.51.100.7"},
		{"RightmostUntrustedHop", "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "1.2.3.4, 198.51.100.7, 10.0.0.3"}, "198.51.100.7"},
		{"AllHopsTrusted", "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "10.0.0.9, 10.0.0.3"}, "10.0.0.9"},
		{"GarbageHop", "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.2"},
		{"TrustedPeerRealIP", "10.0.0.2:4000", map[string]string{"X-Real-IP": "198.51.100.8"}, "198.51.100.8"},
		{"TrustedPeerNoHeaders", "10.0.0.2:4000", nil, "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/anonymize", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ts.clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/health", "")
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("Expected generated request ID")
	}

	rec = ts.do(http.MethodGet, "/health", "", requestIDHeader, "abc-123")
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("Expected incoming request ID echoed, got %q", got)
	}

	rec = ts.do(http.MethodGet, "/health", "", requestIDHeader, strings.Repeat("x", 200))
	if got := rec.Header().Get(requestIDHeader); len(got) > maxRequestIDBytes {
		t.Errorf("Oversized request ID should be replaced, got %d bytes", len(got))
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/anonymize", jsonBody(t, map[string]string{"text": "hi"}), "Origin", "https://app.example.com")
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected CORS header on cross-origin request")
	}

	req := httptest.NewRequest(http.MethodOptions, "/anonymize", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight := httptest.NewRecorder()
	ts.Handler().ServeHTTP(preflight, req)
	if preflight.Code != http.StatusOK {
		t.Errorf("Expected 200 preflight, got %d", preflight.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		ts := newTestServer(t, nil, WithDependency("detector", stubPinger{}))
		rec := ts.do(http.MethodGet, "/health", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		resp := decode[HealthResponse](t, rec)
		if resp.Status != "ok" || resp.Version != "test" || resp.Dependencies["detector"] != "ok" {
			t.Errorf("Unexpected health %+v", resp)
		}
	})

	t.Run("Degraded", func(t *testing.T) {
		ts := newTestServer(t, nil,
			WithDependency("detector", stubPinger{}),
			WithDependency("cache", stubPinger{err: errors.New("dial tcp: refused")}),
		)
		rec := ts.do(http.MethodGet, "/health", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("Expected 503, got %d", rec.Code)
		}
		resp := decode[HealthResponse](t, rec)
		if resp.Status != "degraded" || resp.Dependencies["cache"] != "unavailable" {
			t.Errorf("Unexpected health %+v", resp)
		}
	})
}

func TestInfo(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/info", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	resp := decode[InfoResponse](t, rec)
	if resp.Name != Name || resp.Version != "test" {
		t.Errorf("Unexpected identity %+v", resp)
	}
	if len(resp.SupportedEntities) != len(anonymizer.SupportedEntities) {
		t.Errorf("Expected %d entities, got %d", len(anonymizer.SupportedEntities), len(resp.SupportedEntities))
	}
	if len(resp.SupportedStrategies) != 5 || len(resp.SupportedHashTypes) != 3 {
		t.Errorf("Unexpected strategies/hash types %+v", resp)
	}
	if resp.Configuration["max_text_length"] != float64(10000) || resp.Configuration["encryption_enabled"] != false {
		t.Errorf("Unexpected configuration %+v", resp.Configuration)
	}
	if strings.Contains(rec.Body.String(), "redis://") {
		t.Error("Info should not expose connection strings")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(http.MethodPost, "/anonymize", jsonBody(t, map[string]string{"text": sampleText}))
	ts.do(http.MethodPost, "/anonymize", `{"text":""}`)

	rec := ts.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	resp := decode[MetricsResponse](t, rec)
	app := resp.Application
	if app.Requests.Total != 2 || app.Requests.Anonymized != 1 || app.Requests.Rejected != 1 {
		t.Errorf("Unexpected request counters %+v", app.Requests)
	}
	if app.Entities.ByType["PERSON"] != 1 || app.Entities.ByStrategy["replace"] != 2 {
		t.Errorf("Unexpected entity counters %+v", app.Entities)
	}
	if resp.Process.PID == 0 {
		t.Error("Expected process metrics")
	}
	if resp.Cache != nil || resp.Events != nil {
		t.Error("Cache and events sections should be omitted when not configured")
	}
}

func TestUpdateLimits(t *testing.T) {
	ts := newTestServer(t, nil)
	body := jsonBody(t, map[string]string{"text": "hello world"})
	if rec := ts.do(http.MethodPost, "/anonymize", body); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	cfg := config.GetDefaults()
	cfg.Anonymizer.MaxTextLength = 5
	ts.UpdateLimits(cfg)

	if rec := ts.do(http.MethodPost, "/anonymize", body); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 after lowering the limit, got %d", rec.Code)
	}
}

func TestDeanonymizeEndpoint(t *testing.T) {
	key, err := encryption.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("RoundTrip", func(t *testing.T) {
		ts := newTestServer(t, func(c *config.Config) {
			c.Encryption.Key = key
			c.Encryption.AllowDeanonymize = true
		})

		rec := ts.do(http.MethodPost, "/anonymize", `{"text":"`+sampleText+`","config":{"strategy":"encrypt"}}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("Encrypt failed: %d %s", rec.Code, rec.Body.String())
		}
		res := decode[anonymizer.Result](t, rec)
		if strings.Contains(res.AnonymizedText, "john@example.com") {
			t.Fatal("Encrypted text still contains the email")
		}

		body := jsonBody(t, deanonymizeRequest{Text: &res.AnonymizedText, Items: res.Items})
		rec = ts.do(http.MethodPost, "/deanonymize", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("Deanonymize failed: %d %s", rec.Code, rec.Body.String())
		}
		if got := decode[map[string]string](t, rec)["text"]; got != sampleText {
			t.Errorf("Round trip mismatch: %q", got)
		}
		if ts.metrics.Snapshot().Requests.Deanonymize != 1 {
			t.Error("Expected deanonymization to be counted")
		}
	})

	t.Run("TamperedToken", func(t *testing.T) {
		ts := newTestServer(t, func(c *config.Config) {
			c.Encryption.Key = key
			c.Encryption.AllowDeanonymize = true
		})
		text := "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
		body := jsonBody(t, deanonymizeRequest{Text: &text, Items: []anonymizer.AppliedTransform{
			{EntityType: "PERSON", Strategy: anonymizer.StrategyEncrypt, OutputStart: 0, OutputEnd: len(text)},
		}})
		rec := ts.do(http.MethodPost, "/deanonymize", body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		ts := newTestServer(t, func(c *config.Config) { c.Encryption.Key = key })
		rec := ts.do(http.MethodPost, "/deanonymize", `{"text":"x","items":[]}`)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404 when deanonymize is disabled, got %d", rec.Code)
		}
	})
}

func TestEventStream(t *testing.T) {
	hub := events.NewHub(config.GetDefaults().Events, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := newTestServer(t, nil, WithEventHub(hub))
	server := httptest.NewServer(ts.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(server.URL+"/anonymize", "application/json", bytes.NewBufferString(jsonBody(t, map[string]string{"text": sampleText})))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if !strings.Contains(string(msg), `"anonymization"`) {
		t.Errorf("Unexpected event %s", msg)
	}
	if strings.Contains(string(msg), "john@example.com") || strings.Contains(string(msg), "John Doe") {
		t.Errorf("Event leaks PII: %s", msg)
	}
}

func TestDashboard(t *testing.T) {
	t.Run("ServedWithEvents", func(t *testing.T) {
		hub := events.NewHub(config.GetDefaults().Events, zap.NewNop())
		ts := newTestServer(t, nil, WithEventHub(hub))

		rec := ts.do(http.MethodGet, "/dashboard", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `ws";`) {
			t.Error("Dashboard should subscribe to the events path")
		}
	})

	t.Run("AbsentWithoutEvents", func(t *testing.T) {
		ts := newTestServer(t, nil)
		if rec := ts.do(http.MethodGet, "/dashboard", ""); rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", rec.Code)
		}
	})
}
