// Package ratelimit throttles API requests per client address.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/omers/pii-anonymizer-api/internal/config"
)

// DefaultIdleTimeout is how long a client may stay silent before its limiter is dropped.
const DefaultIdleTimeout = time.Hour

// Limiter keeps one token bucket per client key.
type Limiter struct {
	mu      sync.RWMutex
	enabled bool
	limit   rate.Limit
	burst   int
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// New creates a limiter from the rate limit config section.
func New(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		clients: make(map[string]*client),
		now:     time.Now,
	}
	l.apply(cfg)
	return l
}

func (l *Limiter) apply(cfg config.RateLimitConfig) {
	l.enabled = cfg.Enabled
	l.limit = rate.Limit(float64(cfg.RequestsPerMin) / 60.0)
	l.burst = cfg.Burst
	if l.burst <= 0 {
		l.burst = 1
	}
}

// Update swaps in new limits. Existing buckets are reset so the change applies immediately.
func (l *Limiter) Update(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.apply(cfg)
	l.clients = make(map[string]*client)
}

// Enabled reports whether requests are being limited.
func (l *Limiter) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// Allow reports whether a request from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	c := l.getClient(key)
	c.mu.Lock()
	c.lastSeen = l.now()
	c.mu.Unlock()
	return c.limiter.AllowN(l.now(), 1)
}

// RetryAfter estimates how long key has to wait for its next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.RLock()
	c, ok := l.clients[key]
	limit := l.limit
	l.mu.RUnlock()

	if !ok || limit <= 0 {
		return 0
	}
	r := c.limiter.ReserveN(l.now(), 1)
	d := r.DelayFrom(l.now())
	r.CancelAt(l.now())
	return d
}

// Clients returns the number of tracked client buckets.
func (l *Limiter) Clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

func (l *Limiter) getClient(key string) *client {
	l.mu.RLock()
	c, ok := l.clients[key]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if c, ok := l.clients[key]; ok {
		return c
	}
	c = &client{
		limiter:  rate.NewLimiter(l.limit, l.burst),
		lastSeen: l.now(),
	}
	l.clients[key] = c
	return c
}

// Cleanup drops buckets idle for longer than maxIdle and returns how many were removed.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxIdle)
	removed := 0
	for key, c := range l.clients {
		c.mu.Lock()
		idle := c.lastSeen.Before(cutoff)
		c.mu.Unlock()
		if idle {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (l *Limiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup(maxIdle)
			}
		}
	}()
}
