package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/omers/pii-anonymizer-api/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg config.RateLimitConfig) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(cfg)
	l.now = clock.Now
	return l, clock
}

func TestAllow(t *testing.T) {
	t.Run("BurstThenReject", func(t *testing.T) {
		l, _ := newTestLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 3})

		for i := 0; i < 3; i++ {
			if !l.Allow("10.0.0.1") {
				t.Fatalf("Request %d should be allowed", i+1)
			}
		}
		if l.Allow("10.0.0.1") {
			t.Error("Request beyond burst should be rejected")
		}
	})

	t.Run("Refill", func(t *testing.T) {
		l, clock := newTestLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1})

		if !l.Allow("a") {
			t.Fatal("First request should be allowed")
		}
		if l.Allow("a") {
			t.Fatal("Second request should be rejected")
		}
		clock.Advance(time.Second)
		if !l.Allow("a") {
			t.Error("Request after refill should be allowed")
		}
	})

	t.Run("ClientsAreIndependent", func(t *testing.T) {
		l, _ := newTestLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1})

		if !l.Allow("a") || !l.Allow("b") {
			t.Fatal("Each client gets its own bucket")
		}
		if l.Allow("a") {
			t.Error("Client a should be exhausted")
		}
		if l.Clients() != 2 {
			t.Errorf("Expected 2 tracked clients, got %d", l.Clients())
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		l, _ := newTestLimiter(config.RateLimitConfig{Enabled: false, RequestsPerMin: 1, Burst: 1})
		for i := 0; i < 10; i++ {
			if !l.Allow("a") {
				t.Fatal("Disabled limiter must allow everything")
			}
		}
		if l.Clients() != 0 {
			t.Error("Disabled limiter should not track clients")
		}
	})
}

func TestRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1})

	if d := l.RetryAfter("unknown"); d != 0 {
		t.Errorf("Unknown client should not wait, got %v", d)
	}
	l.Allow("a")
	d := l.RetryAfter("a")
	if d <= 0 || d > time.Second {
		t.Errorf("Expected wait in (0, 1s], got %v", d)
	}
	// RetryAfter must not consume a token.
	if d2 := l.RetryAfter("a"); d2 != d {
		t.Errorf("RetryAfter changed state: %v then %v", d, d2)
	}
}

func TestUpdate(t *testing.T) {
	l, _ := newTestLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1})
	l.Allow("a")
	if l.Allow("a") {
		t.Fatal("Expected rejection before update")
	}

	l.Update(config.RateLimitConfig{Enabled: true, RequestsPerMin: 600, Burst: 5})
	if l.Clients() != 0 {
		t.Error("Update should reset buckets")
	}
	for i := 0; i < 5; i++ {
		if !l.Allow("a") {
			t.Fatalf("Request %d should be allowed under new burst", i+1)
		}
	}

	l.Update(config.RateLimitConfig{Enabled: false})
	if !l.Allow("a") || l.Enabled() {
		t.Error("Limiter should be disabled after update")
	}
}

func TestCleanup(t *testing.T) {
	l, clock := newTestLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 10})

	l.Allow("old")
	clock.Advance(30 * time.Minute)
	l.Allow("recent")
	clock.Advance(45 * time.Minute)

	if removed := l.Cleanup(time.Hour); removed != 1 {
		t.Errorf("Expected 1 removed bucket, got %d", removed)
	}
	if l.Clients() != 1 {
		t.Errorf("Expected 1 remaining client, got %d", l.Clients())
	}
}

func TestStartCleanupStopsWithContext(t *testing.T) {
	l := New(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1})
	l.Allow("a")

	ctx, cancel := context.WithCancel(context.Background())
	l.StartCleanup(ctx, 10*time.Millisecond, 0)

	deadline := time.Now().Add(2 * time.Second)
	for l.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if l.Clients() != 0 {
		t.Error("Cleanup routine did not remove idle client")
	}
}
