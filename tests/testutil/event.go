package testutil

import (
	"context"
	"sync"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/shared"
)

// EventRecorder records every event it handles. It can be subscribed to a
// bus or used directly as a shared.EventPublisher.
type EventRecorder struct {
	mu         sync.Mutex
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
}

// NewEventRecorder creates a recorder for eventTypes; none means all types.
func NewEventRecorder(eventTypes ...string) *EventRecorder {
	return &EventRecorder{eventTypes: eventTypes}
}

// EventTypes returns the event types this handler subscribes to.
func (r *EventRecorder) EventTypes() []string {
	return r.eventTypes
}

// Handle records an event.
func (r *EventRecorder) Handle(_ context.Context, event shared.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = append(r.handled, event)
	return r.err
}

// Publish records events as if they had been dispatched to this handler.
func (r *EventRecorder) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, e := range events {
		if err := r.Handle(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Events returns all recorded events.
func (r *EventRecorder) Events() []shared.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.DomainEvent, len(r.handled))
	copy(out, r.handled)
	return out
}

// Count returns the number of recorded events.
func (r *EventRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handled)
}

// PermissionEvents returns the recorded permission error events.
func (r *EventRecorder) PermissionEvents() []*document.PermissionErrorEvent {
	var out []*document.PermissionErrorEvent
	for _, e := range r.Events() {
		if pe, ok := e.(*document.PermissionErrorEvent); ok {
			out = append(out, pe)
		}
	}
	return out
}

// SetError sets the error to return from Handle.
func (r *EventRecorder) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Reset clears all recorded events.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = nil
	r.err = nil
}

// NotificationRecorder is a shared.Notifier that keeps what it was sent.
type NotificationRecorder struct {
	mu   sync.Mutex
	sent []shared.Notification
}

// NewNotificationRecorder creates an empty recorder.
func NewNotificationRecorder() *NotificationRecorder {
	return &NotificationRecorder{}
}

// Notify records n.
func (r *NotificationRecorder) Notify(_ context.Context, n shared.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Notifications returns all recorded notifications.
func (r *NotificationRecorder) Notifications() []shared.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// Count returns the number of recorded notifications.
func (r *NotificationRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

var (
	_ shared.EventHandler   = (*EventRecorder)(nil)
	_ shared.EventPublisher = (*EventRecorder)(nil)
	_ shared.Notifier       = (*NotificationRecorder)(nil)
)
