// Package transport carries tracker events to whoever is listening. The core
// only depends on the Emitter and Subscriber capabilities; Bus is the
// in-process implementation and Holder keeps the current client swappable.
package transport

import (
	"sync"
	"sync/atomic"
)

// Handler receives one event payload.
type Handler func(payload any)

// Emitter publishes an event by its short name ("request", "response").
type Emitter interface {
	Emit(event string, payload any)
}

// Subscriber registers a handler for an event and returns a function that
// removes it again.
type Subscriber interface {
	On(event string, h Handler) (unsubscribe func())
}

// PubSub is the full transport capability.
type PubSub interface {
	Emitter
	Subscriber
}

type subscription struct {
	id int64
	h  Handler
}

// Bus fans out events to in-process handlers keyed by the full event name.
// Handlers run synchronously in registration order, so a publisher observes
// its events delivered in the order it published them.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
	}
}

// Subscribe registers h for name.
func (b *Bus) Subscribe(name string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(name, id) })
	}
}

func (b *Bus) unsubscribe(name string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[name]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, name)
		} else {
			b.handlers[name] = next
		}
		return
	}
}

// Publish delivers payload to every handler of name. Handlers may
// unsubscribe themselves; the set is captured before delivery starts.
func (b *Bus) Publish(name string, payload any) int {
	b.mu.RLock()
	subs := b.handlers[name]
	b.mu.RUnlock()

	for _, s := range subs {
		s.h(payload)
	}
	return len(subs)
}

// HandlerCount returns the number of handlers registered for name.
func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
