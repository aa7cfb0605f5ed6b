package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/erp/docsync/internal/domain/shared"
	"go.uber.org/zap"
)

// ErrBusStopped is returned by Publish after Stop
var ErrBusStopped = errors.New("event bus stopped")

// InMemoryEventBus implements EventBus with in-memory pub/sub. Dispatch is
// synchronous, in registration order, with no buffering or replay.
type InMemoryEventBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
	stopped  atomic.Bool
	wg       sync.WaitGroup
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		registry: NewHandlerRegistry(),
		logger:   logger,
	}
}

// Publish publishes events to all registered handlers synchronously.
// Events published after Stop are dropped with ErrBusStopped.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	b.wg.Add(1)
	defer b.wg.Done()
	if b.stopped.Load() {
		return ErrBusStopped
	}

	for _, event := range events {
		handlers := b.registry.GetHandlers(event.EventType())

		for _, handler := range handlers {
			if err := b.dispatchToHandler(ctx, handler, event); err != nil {
				// Log error but continue with other handlers
				b.logger.Error("handler failed to process event",
					zap.String("event_type", event.EventType()),
					zap.String("event_id", event.EventID().String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// Subscribe registers a handler for specific event types
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) shared.Unsubscribe {
	// If handler specifies its own event types, use those
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	id := b.registry.Register(handler, eventTypes...)
	b.logger.Debug("handler subscribed",
		zap.Uint64("subscription_id", id),
		zap.Strings("event_types", eventTypes),
	)

	var once sync.Once
	return func() {
		once.Do(func() {
			if b.registry.Unregister(id) {
				b.logger.Debug("handler unsubscribed", zap.Uint64("subscription_id", id))
			}
		})
	}
}

// SubscribeFunc registers a plain function
func (b *InMemoryEventBus) SubscribeFunc(fn func(ctx context.Context, event shared.DomainEvent) error, eventTypes ...string) shared.Unsubscribe {
	return b.Subscribe(shared.EventHandlerFunc{Types: eventTypes, Fn: fn}, eventTypes...)
}

// Start starts the event bus. A new bus accepts events before Start.
func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.stopped.Store(false)
	b.logger.Info("event bus started")
	return nil
}

// Stop rejects further publishes and waits for in-flight ones to finish
func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.stopped.Store(true)
	b.wg.Wait()
	b.logger.Info("event bus stopped")
	return nil
}

// dispatchToHandler safely dispatches an event to a handler
func (b *InMemoryEventBus) dispatchToHandler(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				zap.String("event_type", event.EventType()),
				zap.Any("panic", r),
			)
		}
	}()

	return handler.Handle(ctx, event)
}

// Ensure InMemoryEventBus implements EventBus
var _ shared.EventBus = (*InMemoryEventBus)(nil)
