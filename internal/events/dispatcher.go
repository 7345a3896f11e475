package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler reacts to one event. Handlers run synchronously on the publisher's
// goroutine so side effects complete before the publishing operation returns.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher is a synchronous in-process event bus. Subscribe during startup,
// publish at runtime; handlers for an event run in subscription order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]Handler), log: log}
}

// Subscribe registers handler for the named event.
func (d *Dispatcher) Subscribe(name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], handler)
}

// Publish runs all handlers for ev in order, stopping at the first error.
// Use it when the caller must observe handler failures.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	d.mu.RLock()
	handlers := d.handlers[ev.Name()]
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, ev); err != nil {
			return fmt.Errorf("handle %s: %w", ev.Name(), err)
		}
	}
	return nil
}

// PublishQuiet runs all handlers for ev, logging failures instead of
// returning them. Use it where the triggering operation must succeed even if
// a reaction fails, such as logout teardown.
func (d *Dispatcher) PublishQuiet(ctx context.Context, ev Event) {
	d.mu.RLock()
	handlers := d.handlers[ev.Name()]
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, ev); err != nil {
			d.log.Error("event handler failed", "event", ev.Name(), "error", err)
		}
	}
}
