package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Message is the envelope delivered to subscribers. Payload holds the
// event-specific struct published by the producer.
type Message struct {
	Event   Event
	At      time.Time
	Payload any
}

// Bus is a lightweight pub/sub broker using channels. Publish never blocks:
// messages to a full subscriber are dropped and counted, so slow consumers
// cannot stall the execution path.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Event]map[int]chan Message

	dropped atomic.Int64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event]map[int]chan Message)}
}

// Subscribe registers a listener for the given events and returns the
// delivery channel and an unsubscribe function. The channel is closed on
// unsubscribe.
func (b *Bus) Subscribe(buffer int, evts ...Event) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Message, buffer)
	for _, e := range evts {
		if b.subs[e] == nil {
			b.subs[e] = make(map[int]chan Message)
		}
		b.subs[e][id] = ch
	}

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		closed := false
		for _, e := range evts {
			if _, ok := b.subs[e][id]; ok {
				delete(b.subs[e], id)
				if !closed {
					close(ch)
					closed = true
				}
			}
		}
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	msg := Message{Event: e, At: time.Now().UTC(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of messages discarded due to full subscriber
// buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
