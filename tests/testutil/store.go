package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/erp/docsync/internal/domain/document"
)

// FaultyStore wraps a document.Store and fails chosen operations.
// Listen is reported under document.OperationList.
type FaultyStore struct {
	document.Store

	mu       sync.Mutex
	failures map[document.Operation][]error
	sticky   map[document.Operation]error
	calls    map[document.Operation]int
	onQuery  func(ctx context.Context)
}

// NewFaultyStore wraps inner
func NewFaultyStore(inner document.Store) *FaultyStore {
	return &FaultyStore{
		Store:    inner,
		failures: make(map[document.Operation][]error),
		sticky:   make(map[document.Operation]error),
		calls:    make(map[document.Operation]int),
	}
}

// FailNext makes the next len(errs) calls of op return errs in order
func (s *FaultyStore) FailNext(op document.Operation, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

// FailAlways makes every call of op return err until Heal
func (s *FaultyStore) FailAlways(op document.Operation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sticky[op] = err
}

// Heal removes all injected failures
func (s *FaultyStore) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[document.Operation][]error)
	s.sticky = make(map[document.Operation]error)
}

// OnQuery runs fn at the start of every Query call, before any failure
func (s *FaultyStore) OnQuery(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onQuery = fn
}

// Calls returns how often op was invoked
func (s *FaultyStore) Calls(op document.Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *FaultyStore) next(op document.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if queued := s.failures[op]; len(queued) > 0 {
		s.failures[op] = queued[1:]
		return queued[0]
	}
	return s.sticky[op]
}

// Get reads one document
func (s *FaultyStore) Get(ctx context.Context, path document.DocumentPath) (*document.Snapshot, error) {
	if err := s.next(document.OperationGet); err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, path)
}

// Query evaluates q
func (s *FaultyStore) Query(ctx context.Context, path document.CollectionPath, q document.Query) ([]document.Snapshot, error) {
	s.mu.Lock()
	hook := s.onQuery
	s.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	if err := s.next(document.OperationList); err != nil {
		return nil, err
	}
	return s.Store.Query(ctx, path, q)
}

// Create writes a new document
func (s *FaultyStore) Create(ctx context.Context, path document.CollectionPath, id string, data document.Record) (*document.Snapshot, error) {
	if err := s.next(document.OperationCreate); err != nil {
		return nil, err
	}
	return s.Store.Create(ctx, path, id, data)
}

// Set is reported as an update
func (s *FaultyStore) Set(ctx context.Context, path document.DocumentPath, data document.Record) (*document.Snapshot, error) {
	if err := s.next(document.OperationUpdate); err != nil {
		return nil, err
	}
	return s.Store.Set(ctx, path, data)
}

// Update merges into an existing document
func (s *FaultyStore) Update(ctx context.Context, path document.DocumentPath, data document.Record) (*document.Snapshot, error) {
	if err := s.next(document.OperationUpdate); err != nil {
		return nil, err
	}
	return s.Store.Update(ctx, path, data)
}

// Delete removes a document
func (s *FaultyStore) Delete(ctx context.Context, path document.DocumentPath) error {
	if err := s.next(document.OperationDelete); err != nil {
		return err
	}
	return s.Store.Delete(ctx, path)
}

// Listen fails asynchronously through onError when a list failure is queued
func (s *FaultyStore) Listen(ctx context.Context, path document.CollectionPath, q document.Query,
	onSnapshot func([]document.Snapshot), onError func(error)) func() {
	if err := s.next(document.OperationList); err != nil {
		var stopped atomic.Bool
		go func() {
			if !stopped.Load() {
				onError(err)
			}
		}()
		return func() { stopped.Store(true) }
	}
	return s.Store.Listen(ctx, path, q, onSnapshot, onError)
}

// PermissionDenied returns a store permission error
func PermissionDenied() error {
	return document.NewStoreError(document.CodePermissionDenied, "missing or insufficient permissions")
}

// Unavailable returns a transient store error
func Unavailable() error {
	return document.NewStoreError(document.CodeUnavailable, "backend unavailable")
}

var _ document.Store = (*FaultyStore)(nil)
