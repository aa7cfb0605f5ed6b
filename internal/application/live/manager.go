// Package live keeps in-memory mirrors of owner collections in step with
// the document store.
package live

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/identity"
	"github.com/erp/docsync/internal/domain/shared"
	"github.com/erp/docsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Unsubscribe stops a subscription. It may be called more than once. It
// waits for a callback already in progress, so it must not be called from
// inside that subscription's own callbacks.
type Unsubscribe func()

// Manager opens exactly one store listener per Subscribe call and routes
// listener failures: permission refusals are broadcast as
// PermissionErrorEvents, anything else goes to the subscriber.
type Manager struct {
	store     document.Store
	publisher shared.EventPublisher
	logger    *zap.Logger
	metrics   *telemetry.SyncMetrics

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
}

type subscription struct {
	id      uint64
	path    document.CollectionPath
	stopped atomic.Bool
	stop    func()
	once    sync.Once
	// held for the duration of every callback
	deliver sync.Mutex
}

// NewManager creates a subscription manager
func NewManager(store document.Store, publisher shared.EventPublisher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		publisher: publisher,
		logger:    logger,
		subs:      make(map[uint64]*subscription),
	}
}

// SetMetrics sets the metrics collector
func (m *Manager) SetMetrics(metrics *telemetry.SyncMetrics) {
	m.metrics = metrics
}

// Subscribe attaches a listener for shape on path. onSnapshot receives the
// full result after every change; onError receives the classified failure
// that ended the listener, except permission refusals which are broadcast
// instead. Without an identity in ctx nothing is attached and the returned
// Unsubscribe is a no-op.
func (m *Manager) Subscribe(ctx context.Context, path document.CollectionPath, shape document.Shape,
	onSnapshot func([]document.Snapshot), onError func(error)) (Unsubscribe, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	q := document.Query{Shape: shape}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if _, ok := identity.FromContext(ctx); !ok {
		m.logger.Debug("subscribe skipped, no identity", zap.String("path", path.String()))
		return func() {}, nil
	}

	m.mu.Lock()
	m.nextID++
	sub := &subscription{id: m.nextID, path: path}
	m.subs[sub.id] = sub
	m.mu.Unlock()
	m.metrics.ListenerOpened(ctx)

	stop := m.store.Listen(ctx, path, q,
		func(docs []document.Snapshot) {
			sub.deliver.Lock()
			defer sub.deliver.Unlock()
			if sub.stopped.Load() {
				return
			}
			onSnapshot(docs)
		},
		func(err error) {
			sub.deliver.Lock()
			defer sub.deliver.Unlock()
			if sub.stopped.Load() {
				return
			}
			m.release(ctx, sub)
			m.fail(ctx, path, err, onError)
		},
	)

	m.mu.Lock()
	sub.stop = stop
	m.mu.Unlock()
	if sub.stopped.Load() {
		// closed while attaching
		stop()
	}

	return func() {
		m.halt(sub)
		m.release(ctx, sub)
	}, nil
}

func (m *Manager) halt(sub *subscription) {
	sub.stopped.Store(true)
	// wait out a callback already in progress
	sub.deliver.Lock()
	sub.deliver.Unlock()
	m.mu.Lock()
	stop := sub.stop
	m.mu.Unlock()
	if stop != nil {
		sub.once.Do(stop)
	}
}

func (m *Manager) release(ctx context.Context, sub *subscription) {
	m.mu.Lock()
	_, ok := m.subs[sub.id]
	delete(m.subs, sub.id)
	m.mu.Unlock()
	if ok {
		m.metrics.ListenerClosed(ctx)
	}
}

func (m *Manager) fail(ctx context.Context, path document.CollectionPath, err error, onError func(error)) {
	f := document.Classify(err, document.OperationList, path.String(), nil)
	if f.Kind == document.FailurePermission {
		ctx = context.WithoutCancel(ctx)
		if m.publisher != nil {
			if perr := m.publisher.Publish(ctx, document.PermissionEventFrom(f)); perr != nil {
				m.logger.Error("failed to publish permission event", zap.String("path", f.Path), zap.Error(perr))
			}
		}
		m.metrics.RecordPermissionEvent(ctx, string(f.Operation))
		return
	}
	m.logger.Warn("listener ended", zap.String("path", f.Path), zap.String("kind", string(f.Kind)), zap.Error(err))
	if onError != nil {
		onError(f)
	}
}

// ActiveCount returns the number of attached listeners
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close stops every subscription
func (m *Manager) Close() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[uint64]*subscription)
	m.mu.Unlock()

	for _, s := range subs {
		m.halt(s)
		m.metrics.ListenerClosed(context.Background())
	}
}
