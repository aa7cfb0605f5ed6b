package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/infrastructure/event"
	"github.com/erp/docsync/internal/infrastructure/persistence"
	"github.com/erp/docsync/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type snapshotLog struct {
	mu    sync.Mutex
	calls [][]document.Snapshot
	errs  []error
}

func (l *snapshotLog) onSnapshot(docs []document.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, docs)
}

func (l *snapshotLog) onError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *snapshotLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func (l *snapshotLog) last() []document.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) == 0 {
		return nil
	}
	return l.calls[len(l.calls)-1]
}

func (l *snapshotLog) errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func stockOf(owner string) document.CollectionPath {
	return document.NewCollectionPath(owner, document.ResourceStock)
}

func newBusRecorder(t *testing.T) (*event.InMemoryEventBus, *testutil.EventRecorder) {
	t.Helper()
	bus := event.NewInMemoryEventBus(zap.NewNop())
	rec := testutil.NewEventRecorder()
	t.Cleanup(bus.Subscribe(rec))
	return bus, rec
}

func TestManager_DeliversInitialAndChangedResults(t *testing.T) {
	store := persistence.NewMemoryDocumentStore()
	ctx := testutil.OwnerContext()
	_, err := store.Create(ctx, stockOf(testutil.TestOwnerID), "a", document.Record{"name": "A"})
	require.NoError(t, err)

	m := NewManager(store, nil, nil)
	log := &snapshotLog{}
	unsubscribe, err := m.Subscribe(ctx, stockOf(testutil.TestOwnerID), document.Shape{}, log.onSnapshot, log.onError)
	require.NoError(t, err)
	defer unsubscribe()

	testutil.RequireEventually(t, func() bool { return len(log.last()) == 1 }, waitFor, tick)
	assert.Equal(t, 1, m.ActiveCount())

	_, err = store.Create(ctx, stockOf(testutil.TestOwnerID), "b", document.Record{"name": "B"})
	require.NoError(t, err)
	testutil.RequireEventually(t, func() bool { return len(log.last()) == 2 }, waitFor, tick)
	assert.Empty(t, log.errors())
}

func TestManager_UnsubscribeIsIdempotent(t *testing.T) {
	store := persistence.NewMemoryDocumentStore()
	ctx := testutil.OwnerContext()
	m := NewManager(store, nil, nil)
	log := &snapshotLog{}

	unsubscribe, err := m.Subscribe(ctx, stockOf(testutil.TestOwnerID), document.Shape{}, log.onSnapshot, log.onError)
	require.NoError(t, err)
	testutil.RequireEventually(t, func() bool { return log.count() == 1 }, waitFor, tick)

	unsubscribe()
	unsubscribe()
	assert.Zero(t, m.ActiveCount())

	_, err = store.Create(ctx, stockOf(testutil.TestOwnerID), "late", document.Record{"name": "late"})
	require.NoError(t, err)
	testutil.AssertNever(t, func() bool { return log.count() > 1 }, 100*time.Millisecond, tick)
	assert.Empty(t, log.errors())
}

func TestManager_UnsubscribeWaitsForInFlightDelivery(t *testing.T) {
	store := persistence.NewMemoryDocumentStore()
	ctx := testutil.OwnerContext()
	m := NewManager(store, nil, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	var delivering atomic.Bool
	unsubscribe, err := m.Subscribe(ctx, stockOf(testutil.TestOwnerID), document.Shape{},
		func([]document.Snapshot) {
			if calls.Add(1) == 1 {
				delivering.Store(true)
				close(entered)
				<-release
				delivering.Store(false)
			}
		}, nil)
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("initial delivery never started")
	}

	returned := make(chan bool, 1)
	go func() {
		unsubscribe()
		returned <- delivering.Load()
	}()

	select {
	case <-returned:
		t.Fatal("unsubscribe returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case stillDelivering := <-returned:
		assert.False(t, stillDelivering)
	case <-time.After(waitFor):
		t.Fatal("unsubscribe did not return")
	}

	_, err = store.Create(ctx, stockOf(testutil.TestOwnerID), "late", document.Record{"name": "late"})
	require.NoError(t, err)
	testutil.AssertNever(t, func() bool { return calls.Load() > 1 }, 100*time.Millisecond, tick)
}

func TestManager_PermissionDeniedIsBroadcast(t *testing.T) {
	bus, rec := newBusRecorder(t)
	m := NewManager(persistence.NewMemoryDocumentStore(), bus, nil)
	log := &snapshotLog{}

	// signed in as the test owner, listening to someone else's stock
	unsubscribe, err := m.Subscribe(testutil.OwnerContext(), stockOf("someone-else"), document.Shape{}, log.onSnapshot, log.onError)
	require.NoError(t, err)
	defer unsubscribe()

	testutil.RequireEventually(t, func() bool { return rec.Count() == 1 }, waitFor, tick)
	evt := rec.PermissionEvents()[0]
	assert.Equal(t, document.OperationList, evt.Operation)
	assert.Equal(t, "owner/someone-else/stock", evt.Path)
	assert.Empty(t, log.errors(), "permission failures are not reported to the subscriber")
	assert.Zero(t, log.count())
	testutil.RequireEventually(t, func() bool { return m.ActiveCount() == 0 }, waitFor, tick)
}

func TestManager_OtherFailuresGoToSubscriber(t *testing.T) {
	bus, rec := newBusRecorder(t)
	store := testutil.NewFaultyStore(persistence.NewMemoryDocumentStore())
	store.FailNext(document.OperationList, testutil.Unavailable())
	m := NewManager(store, bus, nil)
	log := &snapshotLog{}

	unsubscribe, err := m.Subscribe(testutil.OwnerContext(), stockOf(testutil.TestOwnerID), document.Shape{}, log.onSnapshot, log.onError)
	require.NoError(t, err)
	defer unsubscribe()

	testutil.RequireEventually(t, func() bool { return len(log.errors()) == 1 }, waitFor, tick)
	var f *document.Failure
	require.True(t, errors.As(log.errors()[0], &f))
	assert.Equal(t, document.FailureTransient, f.Kind)
	assert.Zero(t, rec.Count())
}

func TestManager_NoIdentityIsIdle(t *testing.T) {
	m := NewManager(persistence.NewMemoryDocumentStore(), nil, nil)
	log := &snapshotLog{}

	unsubscribe, err := m.Subscribe(context.Background(), stockOf("o1"), document.Shape{}, log.onSnapshot, log.onError)
	require.NoError(t, err)
	unsubscribe()

	assert.Zero(t, m.ActiveCount())
	assert.Zero(t, log.count())
}

func TestManager_RejectsBadInput(t *testing.T) {
	m := NewManager(persistence.NewMemoryDocumentStore(), nil, nil)
	noop := func([]document.Snapshot) {}

	_, err := m.Subscribe(testutil.OwnerContext(), document.CollectionPath{}, document.Shape{}, noop, nil)
	assert.Error(t, err)

	_, err = m.Subscribe(testutil.OwnerContext(), stockOf(testutil.TestOwnerID), document.Shape{Direction: "sideways"}, noop, nil)
	assert.Error(t, err)
}

func TestManager_Close(t *testing.T) {
	store := persistence.NewMemoryDocumentStore()
	m := NewManager(store, nil, nil)
	ctx := testutil.OwnerContext()
	log := &snapshotLog{}

	for i := 0; i < 3; i++ {
		_, err := m.Subscribe(ctx, stockOf(testutil.TestOwnerID), document.Shape{}, log.onSnapshot, log.onError)
		require.NoError(t, err)
	}
	testutil.RequireEventually(t, func() bool { return log.count() == 3 }, waitFor, tick)
	assert.Equal(t, 3, m.ActiveCount())

	m.Close()
	assert.Zero(t, m.ActiveCount())

	_, err := store.Create(ctx, stockOf(testutil.TestOwnerID), "x", document.Record{"name": "x"})
	require.NoError(t, err)
	testutil.AssertNever(t, func() bool { return log.count() > 3 }, 100*time.Millisecond, tick)
}
