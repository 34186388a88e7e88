package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// subscriberBuffer is how many events a subscriber may lag behind before it
// starts missing events.
const subscriberBuffer = 16

// EventHub fans events out to subscribers without ever blocking the
// publisher. A nil *EventHub is valid and drops everything.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool

	published atomic.Uint64
	missed    atomic.Uint64
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered channel that receives every event published
// from now on. After Close it returns a closed channel.
func (h *EventHub) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; !ok {
		return
	}
	delete(h.subs, ch)
	close(ch)
}

// Publish marshals payload and offers it to every subscriber. A subscriber
// whose buffer is full misses the event.
func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ev := Event{Name: name, Data: data, Ts: time.Now().Unix()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.published.Add(1)
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.missed.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = map[chan Event]struct{}{}
}

// Subscribers returns the number of active subscribers.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns how many events were published and how many deliveries
// were missed by slow subscribers.
func (h *EventHub) Stats() (published, missed uint64) {
	return h.published.Load(), h.missed.Load()
}
