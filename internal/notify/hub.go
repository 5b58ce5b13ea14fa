package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Subscription receives the notifications of one game over a buffered channel.
type Subscription struct {
	gameID string
	events chan Notification
	hub    *Hub
	mu     sync.Mutex
	closed bool
}

// GameID returns the game this subscription follows.
func (s *Subscription) GameID() string {
	return s.gameID
}

// push enqueues n without blocking.
//
// Postcondition: n is enqueued, or an error is returned if the subscription
// is closed or its buffer is full.
func (s *Subscription) push(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("subscription to %s is closed", s.gameID)
	}
	select {
	case s.events <- n:
		return nil
	default:
		return fmt.Errorf("subscription to %s buffer full", s.gameID)
	}
}

// Events returns the read-only notification channel. It is closed by Close.
func (s *Subscription) Events() <-chan Notification {
	return s.events
}

// Close detaches the subscription from its hub and closes the channel.
//
// Postcondition: Events() is closed. Close is idempotent.
func (s *Subscription) Close() {
	s.hub.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Hub delivers notifications to in-process subscribers. It implements Publisher.
type Hub struct {
	logger *zap.Logger
	buffer int

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub creates a Hub whose subscriptions buffer up to buffer notifications.
//
// Precondition: logger must be non-nil; buffer <= 0 selects 16.
func NewHub(logger *zap.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{logger: logger, buffer: buffer, subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe starts following gameID.
func (h *Hub) Subscribe(gameID string) *Subscription {
	s := &Subscription{gameID: gameID, events: make(chan Notification, h.buffer), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[gameID] == nil {
		h.subs[gameID] = make(map[*Subscription]struct{})
	}
	h.subs[gameID][s] = struct{}{}
	return s
}

// Subscribers returns the number of live subscriptions to gameID.
func (h *Hub) Subscribers(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[gameID])
}

// Publish implements Publisher. A slow subscriber misses the notification
// rather than blocking the others; it re-fetches on the next one.
func (h *Hub) Publish(_ context.Context, n Notification) error {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[n.GameID]))
	for s := range h.subs[n.GameID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.push(n); err != nil {
			h.logger.Debug("dropping notification",
				zap.String("game_id", n.GameID),
				zap.Uint64("version", n.Version),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.subs[s.gameID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.gameID)
		}
	}
}
