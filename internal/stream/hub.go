package stream

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/voice-chat/internal/types"
)

const defaultBuffer = 64

// Hub fans session events out to live subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	buffer int
	logger *logrus.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// Subscription receives the events of one session until closed.
type Subscription struct {
	SessionID string

	hub    *Hub
	ch     chan types.Event
	closed bool
}

// NewHub creates a Hub with the given per-subscriber buffer.
func NewHub(buffer int, logger *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		buffer: buffer,
		logger: logger,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscriber for sessionID.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		SessionID: sessionID,
		hub:       h,
		ch:        make(chan types.Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish delivers event to every subscriber of its session.
func (h *Hub) Publish(event types.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[event.SessionID] {
		select {
		case sub.ch <- event:
		default:
			h.logger.WithFields(logrus.Fields{
				"session_id": event.SessionID,
				"event":      event.Type,
			}).Warn("live subscriber lagging, event dropped")
		}
	}
}

// CloseSession ends every subscription of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[sessionID] {
		sub.closeLocked()
	}
	delete(h.subs, sessionID)
}

// Subscribers returns the number of live subscribers of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan types.Event {
	return s.ch
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if set, ok := s.hub.subs[s.SessionID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.SessionID)
		}
	}
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
