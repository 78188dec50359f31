// Package live fans out session activity to websocket subscribers.
package live

import (
	"log/slog"
	"sync"

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/metrics"
)

// Event types.
const (
	EventMessage    = "message"
	EventSession    = "session"
	EventEvaluation = "evaluation"
	EventClosed     = "closed"
)

const defaultBuffer = 32

// Event is one frame of the live feed.
type Event struct {
	Type       string             `json:"type"`
	SessionID  string             `json:"sessionId"`
	Message    *domain.Message    `json:"message,omitempty"`
	Session    *domain.Session    `json:"session,omitempty"`
	Evaluation *domain.Evaluation `json:"evaluation,omitempty"`
}

// Subscription receives the events of one session until it is closed.
type Subscription struct {
	hub       *Hub
	sessionID string
	events    chan Event
	once      sync.Once
}

// Events returns the receive channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub tracks subscribers per session.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub. A nil logger uses slog.Default and nil metrics
// are ignored.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		buffer:  defaultBuffer,
		logger:  logger,
		metrics: m,
	}
}

// Subscribe registers a new subscriber for the session.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		hub:       h,
		sessionID: sessionID,
		events:    make(chan Event, h.buffer),
	}

	h.mu.Lock()
	if _, ok := h.subs[sessionID]; !ok {
		h.subs[sessionID] = make(map[*Subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.SubscriberAdded()
	h.logger.Debug("Live subscriber registered", "session_id", sessionID)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		if subs, ok := h.subs[sub.sessionID]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.subs, sub.sessionID)
			}
		}
		close(sub.events)
		h.mu.Unlock()

		h.metrics.SubscriberRemoved()
		h.logger.Debug("Live subscriber unregistered", "session_id", sub.sessionID)
	})
}

// Publish delivers the event to every subscriber of its session. A subscriber
// whose buffer is full misses the event.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[event.SessionID] {
		select {
		case sub.events <- event:
		default:
			h.logger.Warn("Live subscriber too slow, event dropped",
				"session_id", event.SessionID,
				"event_type", event.Type,
			)
		}
	}
}

// CloseSession sends a closed event to every subscriber of the session and
// ends their subscriptions.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs[sessionID]))
	for sub := range h.subs[sessionID] {
		select {
		case sub.events <- Event{Type: EventClosed, SessionID: sessionID}:
		default:
		}
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
	if len(subs) > 0 {
		h.logger.Info("Live session closed", "session_id", sessionID, "subscribers", len(subs))
	}
}

// Count returns the number of subscribers of a session.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
