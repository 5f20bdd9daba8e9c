// Package events is the in-process fan-out for alert and execution
// lifecycle events, with a websocket endpoint for live consumers.
package events

import (
	"sync"
	"time"
)

// Event types published by the monitor and the playbook engine.
const (
	TypeAlertOpened        = "alert_opened"
	TypeAlertRenotified    = "alert_renotified"
	TypeAlertClosed        = "alert_closed"
	TypeExecutionStarted   = "execution_started"
	TypeExecutionFinished  = "execution_finished"
	TypeDurationAlert      = "duration_alert"
	TypeCircuitBreakerTrip = "circuit_breaker_trip"
)

type Event struct {
	Type      string            `json:"type"`
	ServiceID string            `json:"service_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	At        time.Time         `json:"at"`
}

// Hub fans events out to subscribers. Slow subscribers drop events rather
// than block publishers.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]struct{}{}}
}

func (h *Hub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

// Subscribe returns a buffered event channel and a cancel function that
// closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := make(chan Event, 64)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub)
		})
	}
	return sub, cancel
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
