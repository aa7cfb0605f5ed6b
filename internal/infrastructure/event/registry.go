package event

import (
	"sync"

	"github.com/erp/docsync/internal/domain/shared"
)

type registration struct {
	id      uint64
	handler shared.EventHandler
	// types is nil for wildcard registrations
	types map[string]struct{}
}

func (r registration) accepts(eventType string) bool {
	if r.types == nil {
		return true
	}
	_, ok := r.types[eventType]
	return ok
}

// HandlerRegistry manages event handler registrations in registration order
type HandlerRegistry struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []registration
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		entries: make([]registration, 0),
	}
}

// Register adds a handler for specific event types and returns its
// registration id. If no event types are provided, the handler receives all
// events.
func (r *HandlerRegistry) Register(handler shared.EventHandler, eventTypes ...string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	reg := registration{id: r.nextID, handler: handler}
	if len(eventTypes) > 0 {
		reg.types = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			reg.types[t] = struct{}{}
		}
	}
	r.entries = append(r.entries, reg)
	return reg.id
}

// Unregister removes one registration. Unknown ids are ignored.
func (r *HandlerRegistry) Unregister(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// GetHandlers returns the handlers for an event type, wildcard handlers
// included, in the order they were registered
func (r *HandlerRegistry) GetHandlers(eventType string) []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]shared.EventHandler, 0, len(r.entries))
	for _, e := range r.entries {
		if e.accepts(eventType) {
			result = append(result, e.handler)
		}
	}
	return result
}

// Len returns the number of registrations
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
