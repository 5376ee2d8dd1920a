// Package events carries workflow transition events from the orchestrator to
// interested subscribers. The bus is an explicit dependency handed to the
// engine at construction; subscribers register once, by name, during process
// startup. Publishing is fire-and-forget: the publisher never waits on or
// hears back from handlers.
package events

import (
	"sync"

	"jobline/internal/domain"
)

// Transitioned is the single event type the engine emits.
const Transitioned = "workflow.transitioned"

// TransitionEvent describes one committed state transition. Exactly one of
// Job, WorkOrder, Invoice is set, matching EntityType. Handlers should treat
// the embedded entity as a snapshot that may already be stale.
type TransitionEvent struct {
	EntityType  string
	EntityID    string
	Job         *domain.Job
	WorkOrder   *domain.WorkOrder
	Invoice     *domain.Invoice
	FromState   string
	ToState     string
	PerformedBy domain.Actor
	AuditID     string
}

type Handler func(evt TransitionEvent)

type Bus struct {
	mu       sync.Mutex
	handlers map[string]map[string]Handler // event name -> subscriber name -> handler
	wg       sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string]map[string]Handler)}
}

// Subscribe registers a named handler for an event. Re-registering the same
// subscriber name replaces the previous handler, so startup wiring is
// idempotent.
func (b *Bus) Subscribe(name, subscriber string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[name] == nil {
		b.handlers[name] = make(map[string]Handler)
	}
	b.handlers[name][subscriber] = h
}

// Publish delivers the event to every subscriber on its own goroutine and
// returns immediately.
func (b *Bus) Publish(name string, evt TransitionEvent) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.handlers[name]))
	for _, h := range b.handlers[name] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			h(evt)
		}(h)
	}
}

// Wait blocks until all in-flight deliveries finish. Tests and shutdown paths
// use it; the engine never does.
func (b *Bus) Wait() {
	b.wg.Wait()
}
