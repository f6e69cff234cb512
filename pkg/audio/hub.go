package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/viva/pkg/frames"
	"github.com/harunnryd/viva/pkg/logging"
)

// Hub fans one microphone stream out to independent subscribers: the
// recorder, the barge-in monitor and the active recognizer. Closing one
// subscription never affects the others.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		logger: logging.NewComponentLogger(logger, "audio_hub"),
	}
}

// Subscription receives microphone frames until closed.
type Subscription struct {
	id      uint64
	name    string
	hub     *Hub
	ch      chan frames.AudioFrame
	once    sync.Once
	dropped atomic.Int64
}

// Subscribe registers a named consumer with its own buffer.
func (h *Hub) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{id: h.nextID, name: name, hub: h, ch: make(chan frames.AudioFrame, buffer)}
	if h.closed {
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}
	h.subs[sub.id] = sub
	h.logger.Debug("audio_subscriber_added", slog.String("subscriber", name))
	return sub
}

// Publish delivers a frame to every subscriber without blocking. A slow
// subscriber loses frames rather than stalling the microphone.
func (h *Hub) Publish(f frames.AudioFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		select {
		case sub.ch <- f:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.closeChan()
	}
}

// C returns the frame channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan frames.AudioFrame { return s.ch }

func (s *Subscription) Name() string { return s.name }

func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.hub.mu.Lock()
	_, live := s.hub.subs[s.id]
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
	if live {
		s.hub.logger.Debug("audio_subscriber_removed",
			slog.String("subscriber", s.name),
			slog.Int64("dropped", s.dropped.Load()))
	}
	s.closeChan()
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.ch) })
}
