package events

import (
	"log"
	"sync"
)

// Bus is a lightweight pub/sub broker using channels. Each subscriber gets
// its own buffered channel, so one slow listener never blocks the publisher
// or the other listeners.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fan-outs the payload to subscribers asynchronously to avoid blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}

// On registers a callback for an event. The callback runs on a dedicated
// goroutine fed by its own subscription; panics are recovered and logged so a
// faulty listener cannot take down the publisher. The returned function stops
// the listener.
func (b *Bus) On(e Event, fn func(payload any)) func() {
	ch, unsub := b.Subscribe(e, 64)
	go func() {
		for msg := range ch {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("events: listener panic on %s: %v", e, r)
					}
				}()
				fn(msg)
			}()
		}
	}()
	return unsub
}
