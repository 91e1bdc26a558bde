// Package event provides the in-process notification bus the offline stores
// publish on. The agent's WebSocket hub subscribes and forwards events to UI
// clients; store packages never know who is listening.
package event

import "sync"

// Name identifies an event type.
type Name string

const (
	QueueChanged            Name = "queue.changed"
	SyncStatusChanged       Name = "sync.status_changed"
	ValidationErrorsChanged Name = "validation.errors_changed"
	DraftSaved              Name = "draft.saved"
	DraftCleared            Name = "draft.cleared"
)

// Event is a published notification.
type Event struct {
	Name    Name        `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(Event)

// Bus is a simple fan-out publisher.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its unsubscribe function.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Publish delivers an event to all current subscribers.
func (b *Bus) Publish(name Name, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	evt := Event{Name: name, Payload: payload}
	for _, h := range handlers {
		h(evt)
	}
}
