package dispatch

import (
	"context"
	"sync"

	"emberfall/server/internal/event"
)

// Handler processes one homogeneous batch: every record in events shares
// the same TypeID and priority tier. Records are read-only views; a
// handler that wants to change state enqueues new events.
type Handler interface {
	HandleBatch(ctx context.Context, events []event.Record) error
}

// HandlerFunc adapts functions into the Handler interface.
type HandlerFunc func(ctx context.Context, events []event.Record) error

// HandleBatch implements Handler for HandlerFunc.
func (f HandlerFunc) HandleBatch(ctx context.Context, events []event.Record) error {
	if f == nil {
		return nil
	}
	return f(ctx, events)
}

// RegisterOption tunes a single registration.
type RegisterOption func(*handlerEntry)

// WithParallelSafe marks the handler as safe to invoke off the dispatcher
// goroutine. A type-group fans out to the worker pool only when every
// handler registered for the type carries this option.
func WithParallelSafe() RegisterOption {
	return func(e *handlerEntry) {
		e.parallelSafe = true
	}
}

// WithName attaches a human-readable name used in failure logs.
func WithName(name string) RegisterOption {
	return func(e *handlerEntry) {
		e.name = name
	}
}

// Registration is the token returned by Register, used to unregister.
// Handler funcs are not comparable in Go, so removal goes by token.
type Registration struct {
	typeID uint16
	id     uint64
}

type handlerEntry struct {
	id           uint64
	name         string
	handler      Handler
	parallelSafe bool
}

// Registry maps event type ids to handler lists. Registration happens at
// service start; the dispatcher reads concurrently during dispatch, so
// access goes through an RWMutex. The registry is deliberately off the
// lock-free hot path: it is consulted per type-group, not per event.
type Registry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint16][]handlerEntry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint16][]handlerEntry)}
}

// Register appends handler to typeID's list. Handlers for a type are
// invoked in registration order.
func (r *Registry) Register(typeID uint16, handler Handler, opts ...RegisterOption) Registration {
	if handler == nil {
		return Registration{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry := handlerEntry{id: r.nextID, handler: handler}
	for _, opt := range opts {
		opt(&entry)
	}
	r.handlers[typeID] = append(r.handlers[typeID], entry)
	return Registration{typeID: typeID, id: entry.id}
}

// Unregister removes the registration and reports whether it was found.
func (r *Registry) Unregister(reg Registration) bool {
	if reg.id == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.handlers[reg.typeID]
	for i, entry := range entries {
		if entry.id == reg.id {
			r.handlers[reg.typeID] = append(entries[:i:i], entries[i+1:]...)
			if len(r.handlers[reg.typeID]) == 0 {
				delete(r.handlers, reg.typeID)
			}
			return true
		}
	}
	return false
}

// HandlerCount reports how many handlers are registered for typeID.
func (r *Registry) HandlerCount(typeID uint16) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[typeID])
}

// entriesFor copies typeID's handler list so dispatch never holds the
// lock while invoking.
func (r *Registry) entriesFor(typeID uint16) []handlerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.handlers[typeID]
	if len(entries) == 0 {
		return nil
	}
	copied := make([]handlerEntry, len(entries))
	copy(copied, entries)
	return copied
}

// groupParallelSafe reports whether the whole group may leave the
// dispatcher goroutine.
func groupParallelSafe(entries []handlerEntry) bool {
	if len(entries) == 0 {
		return false
	}
	for _, entry := range entries {
		if !entry.parallelSafe {
			return false
		}
	}
	return true
}
