package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/infrastructure/changefeed"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type storeOptions struct {
	rule   document.AccessRule
	feed   changefeed.Notifier
	clock  func() time.Time
	newID  func() string
	logger *zap.Logger
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		rule:   document.OwnerScopeRule,
		feed:   changefeed.NewLocal(),
		clock:  time.Now,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
}

// StoreOption configures a document store
type StoreOption func(*storeOptions)

// WithAccessRule replaces the owner-scope rule
func WithAccessRule(rule document.AccessRule) StoreOption {
	return func(o *storeOptions) {
		o.rule = rule
	}
}

// WithChangeNotifier sets the notifier listeners are woken through
func WithChangeNotifier(feed changefeed.Notifier) StoreOption {
	return func(o *storeOptions) {
		o.feed = feed
	}
}

// WithClock sets the clock used for server timestamps
func WithClock(clock func() time.Time) StoreOption {
	return func(o *storeOptions) {
		o.clock = clock
	}
}

// WithIDGenerator sets the generator for store-assigned ids
func WithIDGenerator(gen func() string) StoreOption {
	return func(o *storeOptions) {
		o.newID = gen
	}
}

// WithStoreLogger sets the logger
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

func (o storeOptions) now() time.Time {
	return o.clock().UTC().Truncate(time.Millisecond)
}

// authorize checks ctx and the access rule before touching data
func (o storeOptions) authorize(ctx context.Context, op document.Operation, path document.CollectionPath) error {
	if err := ctx.Err(); err != nil {
		return document.WrapStoreError(document.CodeOf(err), err, string(op)+" "+path.String())
	}
	if err := path.Validate(); err != nil {
		return err
	}
	return o.rule(ctx, op, path)
}

func (o storeOptions) changed(ctx context.Context, path document.CollectionPath) {
	if err := o.feed.Notify(context.WithoutCancel(ctx), path.String()); err != nil {
		o.logger.Warn("change notification failed", zap.String("path", path.String()), zap.Error(err))
	}
}

// listen runs one listener goroutine: an initial fetch, then a fetch after
// every change signal. Deliveries are serial. The first error ends the
// listener.
func (o storeOptions) listen(
	ctx context.Context,
	path document.CollectionPath,
	fetch func(context.Context) ([]document.Snapshot, error),
	onSnapshot func([]document.Snapshot),
	onError func(error),
) func() {
	signals, cancelWatch := o.feed.Watch(path.String())
	lctx, cancel := context.WithCancel(ctx)
	var stopped atomic.Bool

	deliver := func() bool {
		snaps, err := fetch(lctx)
		if stopped.Load() {
			return false
		}
		if err != nil {
			if lctx.Err() != nil {
				return false
			}
			if onError != nil {
				onError(err)
			}
			return false
		}
		if onSnapshot != nil {
			onSnapshot(snaps)
		}
		return true
	}

	go func() {
		defer cancelWatch()
		if !deliver() {
			return
		}
		for {
			select {
			case <-lctx.Done():
				return
			case <-signals:
				if !deliver() {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopped.Store(true)
			cancel()
		})
	}
}
