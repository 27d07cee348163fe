// Package feed fans broadcast events out to live subscribers and serves
// them over a websocket endpoint.
package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one broadcast: a client-side method name and its arguments.
type Event struct {
	Method string    `json:"method"`
	Args   []any     `json:"args"`
	Time   time.Time `json:"time"`
}

// Hub is an in-memory fanout.
//
// Contract:
//   - SendAll never blocks on subscribers.
//   - Subscribers get buffered channels; a slow subscriber drops events.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]chan Event{}}
}

// SendAll delivers method(args...) to every subscriber. It only fails when
// ctx is already done.
func (h *Hub) SendAll(ctx context.Context, method string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := Event{Method: method, Args: args, Time: time.Now()}

	// Unsubscribe closes channels under the write lock, so none closes mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.sent.Add(1)
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := h.seq.Add(1)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Stats reports subscriber count and lifetime counters.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return Stats{Subscribers: n, Sent: h.sent.Load(), Dropped: h.dropped.Load()}
}
