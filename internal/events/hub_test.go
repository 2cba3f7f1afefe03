package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
	"github.com/omers/pii-anonymizer-api/internal/config"
)

type wireEvent struct {
	Type      EventType       `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func testConfig() config.EventsConfig {
	cfg := config.GetDefaults().Events
	cfg.PingInterval = time.Second
	cfg.PongTimeout = 2 * time.Second
	return cfg
}

func startHub(t *testing.T, cfg config.EventsConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, have %d", n, hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return ev
}

func sampleResult() *anonymizer.Result {
	return &anonymizer.Result{
		AnonymizedText:   "<PERSON>'s email is <EMAIL_ADDRESS>",
		DetectedEntities: []anonymizer.DetectedEntity{{EntityType: "PERSON", Text: "John Doe"}, {EntityType: "EMAIL_ADDRESS", Text: "john@example.com"}},
		Items: []anonymizer.AppliedTransform{
			{EntityType: "PERSON", Strategy: anonymizer.StrategyReplace},
			{EntityType: "EMAIL_ADDRESS", Strategy: anonymizer.StrategyReplace},
		},
		OriginalLength:   36,
		AnonymizedLength: 35,
		ProcessingTimeMs: 0.4,
	}
}

func TestHubBroadcastsAnonymization(t *testing.T) {
	hub, url := startHub(t, testConfig())
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	hub.PublishAnonymization("req-1", "en", anonymizer.StrategyReplace, sampleResult())

	ev := readEvent(t, conn)
	if ev.Type != EventTypeAnonymization || ev.RequestID != "req-1" {
		t.Fatalf("Unexpected event %+v", ev)
	}

	var data AnonymizationEvent
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if data.TotalApplied != 2 || data.EntityCounts["PERSON"] != 1 || data.Strategy != "replace" {
		t.Errorf("Unexpected summary %+v", data)
	}

	raw := string(ev.Data)
	for _, secret := range []string{"John Doe", "john@example.com", "<PERSON>"} {
		if strings.Contains(raw, secret) {
			t.Errorf("Event leaks text %q: %s", secret, raw)
		}
	}
}

func TestHubSubscriptionFilter(t *testing.T) {
	hub, url := startHub(t, testConfig())
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	if err := conn.WriteJSON(map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{"events": []string{"deanonymization"}},
	}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	// Messages are handled in order, so the pong confirms the subscription.
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != EventTypePong {
		t.Fatalf("Expected pong, got %s", ev.Type)
	}

	hub.PublishAnonymization("req-1", "en", anonymizer.StrategyReplace, sampleResult())
	hub.PublishDeanonymization("req-2", 3)

	ev := readEvent(t, conn)
	if ev.Type != EventTypeDeanonymization || ev.RequestID != "req-2" {
		t.Errorf("Expected only the deanonymization event, got %+v", ev)
	}
}

func TestHubConnectionEvents(t *testing.T) {
	hub, url := startHub(t, testConfig())
	first := dial(t, url)
	waitForClients(t, hub, 1)

	second := dial(t, url)
	waitForClients(t, hub, 2)

	ev := readEvent(t, first)
	var data ConnectionEvent
	json.Unmarshal(ev.Data, &data)
	if ev.Type != EventTypeConnection || data.Action != "connected" || data.ClientID == "" {
		t.Fatalf("Unexpected connection event %+v %+v", ev, data)
	}

	second.Close()
	waitForClients(t, hub, 1)

	ev = readEvent(t, first)
	json.Unmarshal(ev.Data, &data)
	if data.Action != "disconnected" {
		t.Errorf("Expected disconnect event, got %+v", data)
	}

	stats := hub.GetStats()
	if stats.TotalConnections != 2 || stats.ActiveConnections != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestHubMaxConnections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	hub, url := startHub(t, cfg)

	dial(t, url)
	waitForClients(t, hub, 1)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected second connection to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %v", resp)
	}
}

func TestHubCheckOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://dashboard.example.com"}
	hub := NewHub(cfg, zap.NewNop())

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://dashboard.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := hub.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestPublishAfterStop(t *testing.T) {
	hub := NewHub(testConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// Must not block or panic.
	for i := 0; i < sendBufferSize*2; i++ {
		hub.PublishDeanonymization("r", 1)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	if got := clientIP(r); got != "192.0.2.1" {
		t.Errorf("Expected remote host, got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(r); got != "203.0.113.7" {
		t.Errorf("Expected first forwarded address, got %q", got)
	}
}
