package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of event sent to subscribers
type EventType string

const (
	// EventTypeAnonymization is sent after every successful anonymization
	EventTypeAnonymization EventType = "anonymization"
	// EventTypeDeanonymization is sent after every successful deanonymization
	EventTypeDeanonymization EventType = "deanonymization"
	// EventTypeConnection is sent when another subscriber connects or leaves
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event is the envelope written to subscribers
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// AnonymizationEvent summarizes one anonymization. It never carries text:
// only labels, counts and lengths.
type AnonymizationEvent struct {
	Language         string         `json:"language"`
	Strategy         string         `json:"strategy"`
	EntityCounts     map[string]int `json:"entity_counts"`
	TotalDetected    int            `json:"total_detected"`
	TotalApplied     int            `json:"total_applied"`
	OriginalLength   int            `json:"original_length"`
	AnonymizedLength int            `json:"anonymized_length"`
	ProcessingMs     float64        `json:"processing_ms"`
}

// DeanonymizationEvent summarizes one deanonymization.
type DeanonymizationEvent struct {
	Restored int `json:"restored"`
}

// ConnectionEvent represents subscriber connection changes
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
}

// ClientMessage represents messages sent from clients to the server
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Subscription limits which event types a client receives
type Subscription struct {
	Events []EventType `json:"events"`
}

func (s *Subscription) wants(t EventType) bool {
	for _, e := range s.Events {
		if e == t {
			return true
		}
	}
	return false
}

// Client is one WebSocket subscriber
type Client struct {
	ID          string
	IP          string
	UserAgent   string
	ConnectedAt time.Time

	conn *websocket.Conn
	send chan Event

	mu           sync.RWMutex
	subscription *Subscription
}

func (c *Client) setSubscription(s *Subscription) {
	c.mu.Lock()
	c.subscription = s
	c.mu.Unlock()
}

// accepts reports whether the client's subscription covers t. Pongs always pass.
func (c *Client) accepts(t EventType) bool {
	if t == EventTypePong {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subscription == nil {
		return true
	}
	return c.subscription.wants(t)
}

// Stats tracks hub statistics
type Stats struct {
	TotalConnections   int64     `json:"total_connections"`
	ActiveConnections  int64     `json:"active_connections"`
	TotalMessages      int64     `json:"total_messages"`
	TotalBroadcasts    int64     `json:"total_broadcasts"`
	DroppedEvents      int64     `json:"dropped_events"`
	LastConnectionTime time.Time `json:"last_connection_time,omitempty"`
	LastBroadcastTime  time.Time `json:"last_broadcast_time,omitempty"`
}
