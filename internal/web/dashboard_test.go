package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDashboardHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	DashboardHandler("PII <Anonymizer>", "/events").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Unexpected content type %q", ct)
	}
	if rec.Header().Get("Cache-Control") == "" {
		t.Error("Dashboard must not be cached")
	}

	body := rec.Body.String()
	if !strings.Contains(body, `var eventsPath = "`) || !strings.Contains(body, `events";`) {
		t.Error("Events path should be rendered as a JS string")
	}
	if strings.Contains(body, "<Anonymizer>") {
		t.Error("Title must be HTML-escaped")
	}
}
