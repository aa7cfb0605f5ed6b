// Package changefeed fans out "collection changed" signals to document
// store listeners, in process or across instances.
package changefeed

import (
	"context"
	"sync"
)

// Notifier signals listeners that a collection changed
type Notifier interface {
	// Notify marks the collection at path as changed
	Notify(ctx context.Context, path string) error
	// Watch returns a channel that receives a signal after each change to
	// path. Signals coalesce: a pending signal absorbs later ones.
	Watch(path string) (signals <-chan struct{}, cancel func())
}

// Local is an in-process Notifier
type Local struct {
	mu       sync.Mutex
	nextID   uint64
	watchers map[string]map[uint64]chan struct{}
}

// NewLocal creates an in-process notifier
func NewLocal() *Local {
	return &Local{watchers: make(map[string]map[uint64]chan struct{})}
}

// Notify signals every watcher of path without blocking
func (l *Local) Notify(_ context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ch := range l.watchers[path] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Watch registers a watcher for path
func (l *Local) Watch(path string) (<-chan struct{}, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	ch := make(chan struct{}, 1)
	if l.watchers[path] == nil {
		l.watchers[path] = make(map[uint64]chan struct{})
	}
	l.watchers[path][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.watchers[path], id)
			if len(l.watchers[path]) == 0 {
				delete(l.watchers, path)
			}
		})
	}
}

// WatcherCount returns the number of watchers on path
func (l *Local) WatcherCount(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.watchers[path])
}

var _ Notifier = (*Local)(nil)

// notifyAll signals every watcher of every path
func (l *Local) notifyAll(ctx context.Context) {
	l.mu.Lock()
	paths := make([]string, 0, len(l.watchers))
	for p := range l.watchers {
		paths = append(paths, p)
	}
	l.mu.Unlock()

	for _, p := range paths {
		_ = l.Notify(ctx, p)
	}
}
