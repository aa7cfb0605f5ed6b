package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/docsync/internal/domain/document"
)

type memoryDoc struct {
	data    document.Record
	created time.Time
	updated time.Time
}

// MemoryDocumentStore is an in-process document.Store used for development
// and tests. Values are deep-copied on the way in and out.
type MemoryDocumentStore struct {
	storeOptions
	mu   sync.RWMutex
	docs map[string]map[string]*memoryDoc
}

// NewMemoryDocumentStore creates an empty store
func NewMemoryDocumentStore(opts ...StoreOption) *MemoryDocumentStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryDocumentStore{
		storeOptions: o,
		docs:         make(map[string]map[string]*memoryDoc),
	}
}

func (s *MemoryDocumentStore) snapshot(path document.CollectionPath, id string, d *memoryDoc) document.Snapshot {
	return document.Snapshot{
		ID:         id,
		Path:       path.Doc(id).String(),
		Data:       d.data.Clone(),
		CreateTime: d.created,
		UpdateTime: d.updated,
	}
}

// Get reads one document
func (s *MemoryDocumentStore) Get(ctx context.Context, path document.DocumentPath) (*document.Snapshot, error) {
	if err := s.authorize(ctx, document.OperationGet, path.Collection); err != nil {
		return nil, err
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[path.Collection.String()][path.ID]
	if !ok {
		return nil, document.NewStoreError(document.CodeNotFound, path.String())
	}
	snap := s.snapshot(path.Collection, path.ID, d)
	return &snap, nil
}

// Query evaluates q over the collection
func (s *MemoryDocumentStore) Query(ctx context.Context, path document.CollectionPath, q document.Query) ([]document.Snapshot, error) {
	if err := s.authorize(ctx, document.OperationList, path); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	coll := s.docs[path.String()]
	all := make([]document.Snapshot, 0, len(coll))
	for id, d := range coll {
		all = append(all, s.snapshot(path, id, d))
	}
	s.mu.RUnlock()

	return document.Apply(all, q), nil
}

// Create writes a new document
func (s *MemoryDocumentStore) Create(ctx context.Context, path document.CollectionPath, id string, data document.Record) (*document.Snapshot, error) {
	if err := s.authorize(ctx, document.OperationCreate, path); err != nil {
		return nil, err
	}
	if id == "" {
		id = s.newID()
	}
	if err := path.Doc(id).Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	coll := s.collection(path)
	if _, exists := coll[id]; exists {
		s.mu.Unlock()
		return nil, document.NewStoreError(document.CodeAlreadyExists, path.Doc(id).String())
	}
	d := &memoryDoc{
		data:    document.ResolveServerTimestamps(data.Clone(), now),
		created: now,
		updated: now,
	}
	coll[id] = d
	snap := s.snapshot(path, id, d)
	s.mu.Unlock()

	s.changed(ctx, path)
	return &snap, nil
}

// Set creates or replaces a document
func (s *MemoryDocumentStore) Set(ctx context.Context, path document.DocumentPath, data document.Record) (*document.Snapshot, error) {
	op := document.OperationUpdate
	if _, err := s.Get(ctx, path); document.IsNotFound(err) {
		op = document.OperationCreate
	}
	if err := s.authorize(ctx, op, path.Collection); err != nil {
		return nil, err
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	coll := s.collection(path.Collection)
	created := now
	if prev, ok := coll[path.ID]; ok {
		created = prev.created
	}
	d := &memoryDoc{
		data:    document.ResolveServerTimestamps(data.Clone(), now),
		created: created,
		updated: now,
	}
	coll[path.ID] = d
	snap := s.snapshot(path.Collection, path.ID, d)
	s.mu.Unlock()

	s.changed(ctx, path.Collection)
	return &snap, nil
}

// Update merges data into an existing document
func (s *MemoryDocumentStore) Update(ctx context.Context, path document.DocumentPath, data document.Record) (*document.Snapshot, error) {
	if err := s.authorize(ctx, document.OperationUpdate, path.Collection); err != nil {
		return nil, err
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	d, ok := s.docs[path.Collection.String()][path.ID]
	if !ok {
		s.mu.Unlock()
		return nil, document.NewStoreError(document.CodeNotFound, path.String())
	}
	d.data = document.ResolveServerTimestamps(d.data.Merge(data), now)
	d.updated = now
	snap := s.snapshot(path.Collection, path.ID, d)
	s.mu.Unlock()

	s.changed(ctx, path.Collection)
	return &snap, nil
}

// Delete removes a document
func (s *MemoryDocumentStore) Delete(ctx context.Context, path document.DocumentPath) error {
	if err := s.authorize(ctx, document.OperationDelete, path.Collection); err != nil {
		return err
	}
	if err := path.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	coll := s.docs[path.Collection.String()]
	if _, ok := coll[path.ID]; !ok {
		s.mu.Unlock()
		return document.NewStoreError(document.CodeNotFound, path.String())
	}
	delete(coll, path.ID)
	s.mu.Unlock()

	s.changed(ctx, path.Collection)
	return nil
}

// Listen pushes query results on every change to the collection
func (s *MemoryDocumentStore) Listen(ctx context.Context, path document.CollectionPath, q document.Query,
	onSnapshot func([]document.Snapshot), onError func(error)) func() {
	return s.listen(ctx, path, func(lctx context.Context) ([]document.Snapshot, error) {
		return s.Query(lctx, path, q)
	}, onSnapshot, onError)
}

// Len returns the number of documents in a collection
func (s *MemoryDocumentStore) Len(path document.CollectionPath) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[path.String()])
}

// collection returns the collection map, creating it. Callers hold s.mu.
func (s *MemoryDocumentStore) collection(path document.CollectionPath) map[string]*memoryDoc {
	key := path.String()
	coll, ok := s.docs[key]
	if !ok {
		coll = make(map[string]*memoryDoc)
		s.docs[key] = coll
	}
	return coll
}

func (s *MemoryDocumentStore) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("MemoryDocumentStore(%d collections)", len(s.docs))
}

var _ document.Store = (*MemoryDocumentStore)(nil)
