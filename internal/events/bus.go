package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type tags one event on the bus.
type Type string

const (
	TypeTick        Type = "tick"
	TypeTickSummary Type = "tick_summary"
	TypePrediction  Type = "prediction"
	TypeHealthy     Type = "healthy"
	TypeAlert       Type = "alert"
	TypeCaseExists  Type = "case_exists"
	TypeState       Type = "state"
)

// Event is one structured progress notification.
type Event struct {
	Type      Type      `json:"event"`
	Payload   any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// SubscriberStats counts delivery outcomes for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	id    string
	ch    chan<- Event
	sent  atomic.Uint64
	drops atomic.Uint64
}

// Bus is an in-process multi-subscriber broadcaster. Publish never blocks:
// a subscriber whose channel is full misses that event (send-if-ready).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// NewBus returns an empty bus ready for subscribers.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch to receive all future events under the given id.
// Returns false if the id is taken or the bus is closed.
func (b *Bus) Subscribe(id string, ch chan<- Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || ch == nil {
		return false
	}
	if _, exists := b.subscribers[id]; exists {
		return false
	}
	b.subscribers[id] = &subscriber{id: id, ch: ch}
	return true
}

// Unsubscribe removes the subscriber. The caller owns the channel and is
// responsible for draining or closing it afterwards.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish stamps the event and delivers it to every subscriber whose channel
// has room. Delivery order per subscriber matches emission order.
func (b *Bus) Publish(typ Type, payload any) {
	ev := Event{Type: typ, Payload: payload, Timestamp: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
			sub.sent.Add(1)
		default:
			sub.drops.Add(1)
		}
	}
}

// Stats returns delivery counters for one subscriber, or false if unknown.
func (b *Bus) Stats(id string) (SubscriberStats, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return SubscriberStats{}, false
	}
	return SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.drops.Load()}, true
}

// Published returns the total number of events published.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Close stops delivery. Subsequent Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
