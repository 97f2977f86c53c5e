package progress

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"
)

const DefaultBuffer = 64

// Hub fans streaming updates out to the subscribers of a session key. It
// keeps no history: a subscriber only sees updates published after it
// joined. A subscriber that does not keep up loses updates instead of
// blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

// Subscription is one subscriber's handle on a session.
type Subscription struct {
	key     string
	ch      chan common.StreamingUpdate
	hub     *Hub
	once    sync.Once
	dropped int
}

// NewHub creates a hub whose subscriptions buffer up to buffer updates.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe joins the session identified by key.
func (h *Hub) Subscribe(key string) *Subscription {
	sub := &Subscription{
		key: key,
		ch:  make(chan common.StreamingUpdate, h.buffer),
		hub: h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	room, ok := h.rooms[key]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[key] = room
	}
	room[sub] = struct{}{}
	total := len(room)
	h.mu.Unlock()

	logger.Debug("[Progress] Subscriber joined", "session", key, "subscribers", total)
	return sub
}

// Updates returns the channel the subscription receives on. It is closed
// by Close.
func (s *Subscription) Updates() <-chan common.StreamingUpdate {
	return s.ch
}

// Key returns the session key of the subscription.
func (s *Subscription) Key() string {
	return s.key
}

// Close leaves the session. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.closeLocked()
}

// closeLocked must be called with the hub lock held.
func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		if room, ok := s.hub.rooms[s.key]; ok {
			delete(room, s)
			if len(room) == 0 {
				delete(s.hub.rooms, s.key)
			}
		}
		close(s.ch)
		logger.Debug("[Progress] Subscriber left", "session", s.key, "dropped", s.dropped)
	})
}

// Publish delivers update to every current subscriber of sessionKey.
func (h *Hub) Publish(_ context.Context, sessionKey string, update common.StreamingUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.rooms[sessionKey] {
		sub.send(update)
	}
	return nil
}

// PublishAll delivers update to every subscriber of every session.
func (h *Hub) PublishAll(_ context.Context, update common.StreamingUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range h.rooms {
		for sub := range room {
			sub.send(update)
		}
	}
	return nil
}

// Close delivers notice to every subscriber and then ends all
// subscriptions, so readers see the notice followed by a closed channel.
// Later subscriptions start closed and later publishes reach nobody.
func (h *Hub) Close(notice common.StreamingUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, room := range h.rooms {
		for sub := range room {
			sub.send(notice)
			sub.closeLocked()
		}
	}
	logger.Info("[Progress] Hub closed")
}

// Subscribers returns the number of subscribers of sessionKey.
func (h *Hub) Subscribers(sessionKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionKey])
}

// send must be called with the hub lock held.
func (s *Subscription) send(update common.StreamingUpdate) {
	select {
	case s.ch <- update:
	default:
		s.dropped++
		logger.Debug("[Progress] Update dropped (subscriber full)", "session", s.key, "type", update.Type)
	}
}
