package document

import "context"

// Store is the document store port. Implementations enforce their own
// access rules and report refusals as CodePermissionDenied.
type Store interface {
	// Get reads one document. A missing document is CodeNotFound.
	Get(ctx context.Context, path DocumentPath) (*Snapshot, error)
	// Query evaluates q against the collection
	Query(ctx context.Context, path CollectionPath, q Query) ([]Snapshot, error)
	// Create writes a new document. An empty id asks the store to generate
	// one; an existing id is CodeAlreadyExists.
	Create(ctx context.Context, path CollectionPath, id string, data Record) (*Snapshot, error)
	// Set creates or fully replaces a document
	Set(ctx context.Context, path DocumentPath, data Record) (*Snapshot, error)
	// Update merges the top-level keys of data into an existing document
	Update(ctx context.Context, path DocumentPath, data Record) (*Snapshot, error)
	// Delete removes a document
	Delete(ctx context.Context, path DocumentPath) error
	// Listen pushes the full result of q every time the collection changes,
	// starting with the current state. Deliveries for one listener are
	// serialised. A refusal or failure is reported once through onError and
	// ends the listener. The returned func stops delivery and may be called
	// more than once.
	Listen(ctx context.Context, path CollectionPath, q Query,
		onSnapshot func([]Snapshot), onError func(error)) (stop func())
}
