package event

import (
	"sync"
)

type Handler[Event any] interface {
	OnEvent(e Event)
}

// HandlerFunc is an adapter to allow the use of ordinary
// functions as Handlers.
type HandlerFunc[Event any] func(Event)

// OnEvent calls f(e).
func (f HandlerFunc[Event]) OnEvent(e Event) {
	f(e)
}

// Bus fans events out to its handlers. Handlers are invoked on the
// publishing goroutine, in registration order, so every handler observes
// events in the order they were published.
type Bus[Event any] struct {
	handlersMu sync.RWMutex
	handlers   []Handler[Event]
}

func NewBus[Event any]() *Bus[Event] {
	return &Bus[Event]{}
}

func (b *Bus[Event]) AddHandler(h Handler[Event]) {
	b.handlersMu.Lock()
	b.handlers = append(b.handlers, h)
	b.handlersMu.Unlock()
}

func (b *Bus[Event]) OnEvent(e Event) {
	b.handlersMu.RLock()
	// Copy handlers to prevent race conditions
	handlers := make([]Handler[Event], len(b.handlers))
	copy(handlers, b.handlers)
	b.handlersMu.RUnlock()

	// Execute handlers outside the lock
	for _, h := range handlers {
		h.OnEvent(e)
	}
}
