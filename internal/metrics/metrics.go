// Package metrics keeps in-process counters for the anonymization service
// and samples process and host usage for the /metrics endpoint.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
)

// otherEntityType buckets labels outside the supported set.
const otherEntityType = "OTHER"

// Metrics holds application counters. Per-strategy and per-entity maps are
// populated in New and only read afterwards. Use New; the zero value only
// supports the scalar counters.
type Metrics struct {
	RequestsTotal       atomic.Int64
	RequestsAnonymized  atomic.Int64
	RequestsRejected    atomic.Int64
	RequestsFailed      atomic.Int64
	RequestsRateLimited atomic.Int64
	RequestsTimedOut    atomic.Int64
	Deanonymizations    atomic.Int64

	EntitiesDetected atomic.Int64
	EntitiesApplied  atomic.Int64

	byStrategy map[anonymizer.Strategy]*atomic.Int64
	byEntity   map[string]*atomic.Int64

	processingMu   sync.Mutex
	processingStat latencyStats

	requestMu   sync.Mutex
	requestStat latencyStats

	startTime time.Time
}

// New returns Metrics with the start time recorded.
func New() *Metrics {
	m := &Metrics{
		startTime:  time.Now(),
		byStrategy: make(map[anonymizer.Strategy]*atomic.Int64, len(anonymizer.SupportedStrategies)),
		byEntity:   make(map[string]*atomic.Int64, len(anonymizer.SupportedEntities)+1),
	}
	for _, s := range anonymizer.SupportedStrategies {
		m.byStrategy[s] = new(atomic.Int64)
	}
	for _, e := range anonymizer.SupportedEntities {
		m.byEntity[e] = new(atomic.Int64)
	}
	m.byEntity[otherEntityType] = new(atomic.Int64)
	return m
}

// RecordResult counts a successful anonymization.
func (m *Metrics) RecordResult(result *anonymizer.Result) {
	m.RequestsAnonymized.Add(1)
	m.EntitiesDetected.Add(int64(len(result.DetectedEntities)))
	m.EntitiesApplied.Add(int64(len(result.Items)))

	for _, item := range result.Items {
		if c, ok := m.byStrategy[item.Strategy]; ok {
			c.Add(1)
		}
		if c, ok := m.byEntity[item.EntityType]; ok {
			c.Add(1)
		} else if c, ok := m.byEntity[otherEntityType]; ok {
			c.Add(1)
		}
	}

	m.processingMu.Lock()
	m.processingStat.record(result.ProcessingTimeMs)
	m.processingMu.Unlock()
}

// RecordRequestLatency records the full handling time of one request.
func (m *Metrics) RecordRequestLatency(d time.Duration) {
	m.requestMu.Lock()
	m.requestStat.record(float64(d.Microseconds()) / 1000.0)
	m.requestMu.Unlock()
}

// Uptime returns the time since New.
func (m *Metrics) Uptime() time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	return time.Since(m.startTime)
}

// Snapshot returns a point-in-time copy of all counters, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.processingMu.Lock()
	processing := m.processingStat.snapshot()
	m.processingMu.Unlock()

	m.requestMu.Lock()
	request := m.requestStat.snapshot()
	m.requestMu.Unlock()

	byStrategy := make(map[string]int64, len(m.byStrategy))
	for s, c := range m.byStrategy {
		if n := c.Load(); n > 0 {
			byStrategy[string(s)] = n
		}
	}
	byEntity := make(map[string]int64, len(m.byEntity))
	for e, c := range m.byEntity {
		if n := c.Load(); n > 0 {
			byEntity[e] = n
		}
	}

	return Snapshot{
		Requests: RequestSnapshot{
			Total:       m.RequestsTotal.Load(),
			Anonymized:  m.RequestsAnonymized.Load(),
			Rejected:    m.RequestsRejected.Load(),
			Failed:      m.RequestsFailed.Load(),
			RateLimited: m.RequestsRateLimited.Load(),
			TimedOut:    m.RequestsTimedOut.Load(),
			Deanonymize: m.Deanonymizations.Load(),
		},
		Entities: EntitySnapshot{
			Detected:   m.EntitiesDetected.Load(),
			Applied:    m.EntitiesApplied.Load(),
			ByStrategy: byStrategy,
			ByType:     byEntity,
		},
		Latency: LatencyGroup{
			ProcessingMs: processing,
			RequestMs:    request,
		},
		UptimeSecs: m.Uptime().Seconds(),
	}
}

// Snapshot is a point-in-time view of the application counters.
type Snapshot struct {
	Requests   RequestSnapshot `json:"requests"`
	Entities   EntitySnapshot  `json:"entities"`
	Latency    LatencyGroup    `json:"latency"`
	UptimeSecs float64         `json:"uptime_secs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Total       int64 `json:"total"`
	Anonymized  int64 `json:"anonymized"`
	Rejected    int64 `json:"rejected"`
	Failed      int64 `json:"failed"`
	RateLimited int64 `json:"rate_limited"`
	TimedOut    int64 `json:"timed_out"`
	Deanonymize int64 `json:"deanonymized"`
}

// EntitySnapshot holds span counters. Only non-zero buckets appear.
type EntitySnapshot struct {
	Detected   int64            `json:"detected"`
	Applied    int64            `json:"applied"`
	ByStrategy map[string]int64 `json:"by_strategy,omitempty"`
	ByType     map[string]int64 `json:"by_type,omitempty"`
}

// LatencyGroup groups the latency dimensions.
type LatencyGroup struct {
	ProcessingMs LatencySnapshot `json:"processing_ms"`
	RequestMs    LatencySnapshot `json:"request_ms"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"min_ms"`
	MeanMs float64 `json:"mean_ms"`
	MaxMs  float64 `json:"max_ms"`
}

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
