package live

import (
	"context"
	"sync"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/identity"
	"go.uber.org/zap"
)

// Decoder turns a snapshot into a mirror item
type Decoder[T any] func(document.Snapshot) (T, error)

// SnapshotDecoder mirrors raw snapshots
func SnapshotDecoder(s document.Snapshot) (document.Snapshot, error) {
	return s, nil
}

// TypedDecoder decodes snapshots into T through their JSON form
func TypedDecoder[T any]() Decoder[T] {
	return document.DecodeAs[T]
}

// CollectionOption configures a LiveCollection
type CollectionOption func(*collectionOptions)

type collectionOptions struct {
	logger  *zap.Logger
	shape   document.Shape
	onError func(error)
}

// WithCollectionLogger sets the logger
func WithCollectionLogger(logger *zap.Logger) CollectionOption {
	return func(o *collectionOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithShape sets the initial query shape
func WithShape(shape document.Shape) CollectionOption {
	return func(o *collectionOptions) {
		o.shape = shape
	}
}

// WithErrorHandler receives the failure that ended a listener. Permission
// refusals never reach it; they are broadcast instead.
func WithErrorHandler(fn func(error)) CollectionOption {
	return func(o *collectionOptions) {
		o.onError = fn
	}
}

// LiveCollection is a managed subscription to one resource of the signed-in
// owner. It follows the identity provider: a new identity re-scopes the
// listener and signing out clears the mirror. The mirror is only ever
// replaced wholesale by store pushes.
type LiveCollection[T any] struct {
	manager  *Manager
	provider identity.Provider
	resource document.Resource
	decode   Decoder[T]
	logger   *zap.Logger
	onError  func(error)

	mu          sync.Mutex
	ctx         context.Context
	running     bool
	shape       document.Shape
	owner       string
	items       []T
	err         error
	generation  uint64
	unsubscribe Unsubscribe
	cancelWatch func()
	nextHandler uint64
	handlers    map[uint64]func([]T)
}

// NewLiveCollection creates an idle collection; call Start to attach
func NewLiveCollection[T any](manager *Manager, provider identity.Provider, resource document.Resource,
	decode Decoder[T], opts ...CollectionOption) *LiveCollection[T] {
	o := collectionOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &LiveCollection[T]{
		manager:  manager,
		provider: provider,
		resource: resource,
		decode:   decode,
		logger:   o.logger,
		onError:  o.onError,
		shape:    o.shape,
		handlers: make(map[uint64]func([]T)),
	}
}

// Start attaches the listener for the current identity and follows
// identity changes until Stop. Starting a running collection is a no-op.
func (c *LiveCollection[T]) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	cancel := c.provider.Watch(c.onIdentity)
	c.mu.Lock()
	c.cancelWatch = cancel
	c.mu.Unlock()

	id, ok := c.provider.Current()
	return c.attach(id, ok)
}

// Stop detaches the listener and clears the mirror
func (c *LiveCollection[T]) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancelWatch := c.cancelWatch
	c.cancelWatch = nil
	unsubscribe := c.detachLocked()
	c.items = nil
	c.err = nil
	c.owner = ""
	c.mu.Unlock()

	if cancelWatch != nil {
		cancelWatch()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

// SetQuery changes the query shape. An unchanged shape keeps the current
// listener; otherwise the old listener is torn down before the new one is
// attached.
func (c *LiveCollection[T]) SetQuery(shape document.Shape) error {
	c.mu.Lock()
	if shape.Key() == c.shape.Key() {
		c.mu.Unlock()
		return nil
	}
	c.shape = shape
	running := c.running
	c.mu.Unlock()

	if !running {
		return nil
	}
	id, ok := c.provider.Current()
	return c.attach(id, ok)
}

// Items returns a copy of the mirror
func (c *LiveCollection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Err returns the failure that ended the current listener, if any
func (c *LiveCollection[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Owner returns the owner the collection is scoped to, or ""
func (c *LiveCollection[T]) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// OnChange registers fn to receive the mirror after every replacement.
// Handlers run on the listener goroutine and must not block.
func (c *LiveCollection[T]) OnChange(fn func([]T)) (cancel func()) {
	c.mu.Lock()
	c.nextHandler++
	id := c.nextHandler
	c.handlers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

func (c *LiveCollection[T]) onIdentity(id identity.Identity, ok bool) {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return
	}
	if err := c.attach(id, ok); err != nil {
		c.logger.Warn("re-scoping live collection failed", zap.String("resource", string(c.resource)), zap.Error(err))
	}
}

// attach replaces the current listener with one for id. Without an
// identity the collection stays idle with an empty mirror.
func (c *LiveCollection[T]) attach(id identity.Identity, ok bool) error {
	c.mu.Lock()
	previous := c.detachLocked()
	c.err = nil
	if !ok {
		c.owner = ""
		c.items = nil
		gen := c.generation
		c.mu.Unlock()
		if previous != nil {
			previous()
		}
		c.publish(gen, nil)
		return nil
	}
	if c.owner != id.OwnerID {
		c.items = nil
	}
	c.owner = id.OwnerID
	gen := c.generation
	shape := c.shape
	ctx := identity.WithContext(c.ctx, id)
	c.mu.Unlock()

	if previous != nil {
		previous()
	}

	path := document.NewCollectionPath(id.OwnerID, c.resource)
	unsubscribe, err := c.manager.Subscribe(ctx, path, shape,
		func(docs []document.Snapshot) { c.replace(gen, docs) },
		func(err error) { c.fail(gen, err) },
	)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if gen != c.generation || !c.running {
		c.mu.Unlock()
		unsubscribe()
		return nil
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
	return nil
}

// detachLocked invalidates in-flight deliveries and returns the listener
// to stop once the lock is released.
func (c *LiveCollection[T]) detachLocked() Unsubscribe {
	c.generation++
	u := c.unsubscribe
	c.unsubscribe = nil
	return u
}

func (c *LiveCollection[T]) replace(gen uint64, docs []document.Snapshot) {
	items := make([]T, 0, len(docs))
	for _, d := range docs {
		item, err := c.decode(d)
		if err != nil {
			c.logger.Warn("skipping undecodable document", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.items = items
	c.err = nil
	c.mu.Unlock()

	c.publish(gen, items)
}

func (c *LiveCollection[T]) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.err = err
	c.unsubscribe = nil
	c.mu.Unlock()

	if c.onError != nil {
		c.onError(err)
	}
}

func (c *LiveCollection[T]) publish(gen uint64, items []T) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	handlers := make([]func([]T), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		out := make([]T, len(items))
		copy(out, items)
		h(out)
	}
}
