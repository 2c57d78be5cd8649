// Package notify fans committed state transitions out to realtime
// subscribers. Delivery is at-most-once and best-effort: a slow subscriber
// loses events rather than ever back-pressuring the write path. Consumers
// reconcile through the query API using the event version.
package notify

import (
	"sync"
	"sync/atomic"

	"fixmarket/internal/domain"
)

type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscriber]struct{}
	dropped atomic.Int64
}

type Subscriber struct {
	ch       chan domain.Event
	channels []string
	once     sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers interest in the given channels. buffer bounds the
// per-subscriber queue; a full queue drops, it never blocks Publish.
func (h *Hub) Subscribe(channels []string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 32
	}
	s := &Subscriber{ch: make(chan domain.Event, buffer), channels: channels}
	h.mu.Lock()
	for _, ch := range channels {
		if ch == "" {
			continue
		}
		m, ok := h.subs[ch]
		if !ok {
			m = make(map[*Subscriber]struct{})
			h.subs[ch] = m
		}
		m[s] = struct{}{}
	}
	h.mu.Unlock()
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	for _, ch := range s.channels {
		if m, ok := h.subs[ch]; ok {
			delete(m, s)
			if len(m) == 0 {
				delete(h.subs, ch)
			}
		}
	}
	h.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// Publish delivers ev to every subscriber of channel without blocking.
func (h *Hub) Publish(channel string, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[channel] {
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were shed to slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// C is the subscriber's event stream; closed on Unsubscribe.
func (s *Subscriber) C() <-chan domain.Event { return s.ch }
