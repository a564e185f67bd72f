// Package bus provides the host application's internal event bus.
//
// Events are named strings with a string payload. Delivery is asynchronous:
// Emit never waits for a subscriber to acknowledge, which keeps the control
// channel's command bridge from blocking on host-side consumers (e.g., a
// training loop that only checks a stop flag between epochs).
package bus

import (
	"log"
	"sync"
)

// EventMobileCommand carries a recognized remote command from the control
// channel into the host. The payload is the command name (e.g.,
// "stop_training").
const EventMobileCommand = "mobile_command"

// Handler receives the payload of an emitted event.
type Handler func(payload string)

// Bus is a process-scoped named-event dispatcher.
// The zero value is not usable; create one with New.
type Bus struct {
	mu sync.Mutex

	// subscribers maps event name to registered handlers.
	// Keys are handler IDs so unsubscribe is O(1).
	subscribers map[string]map[int]Handler

	// nextID assigns handler IDs.
	nextID int
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]map[int]Handler),
	}
}

// Subscribe registers a handler for the named event and returns a function
// that removes the subscription. Handlers may be registered from any
// goroutine.
func (b *Bus) Subscribe(event string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[event] == nil {
		b.subscribers[event] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subscribers[event][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers[event], id)
	}
}

// Emit delivers payload to every handler subscribed to event.
// Each handler runs on its own goroutine; Emit returns immediately and never
// waits for acknowledgment. Events with no subscribers are dropped.
func (b *Bus) Emit(event, payload string) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subscribers[event]))
	for _, h := range b.subscribers[event] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	if len(handlers) == 0 {
		log.Printf("bus: event %q emitted with no subscribers", event)
		return
	}

	for _, h := range handlers {
		go h(payload)
	}
}
