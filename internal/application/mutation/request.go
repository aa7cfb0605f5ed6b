package mutation

import (
	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/identity"
)

// CreateRequest creates one document. ID may be empty; a random id is then
// assigned before the first write attempt so retries target the same
// document.
type CreateRequest struct {
	// Identity defaults to the identity carried by the context
	Identity identity.Identity
	Resource document.Resource
	ID       string
	// Data may hold normalize.Undefined values, which are dropped
	Data document.Record
}

// UpdateRequest writes the defined keys of Data onto an existing document
type UpdateRequest struct {
	Identity identity.Identity
	Resource document.Resource
	ID       string
	Data     document.Record
}

// DeleteRequest removes one document
type DeleteRequest struct {
	Identity identity.Identity
	Resource document.Resource
	ID       string
}

// Result is the outcome of one mutation. A committed create or update
// carries the written Document; a failed one carries Err. Committed results
// never touch a live mirror; the next push does.
type Result struct {
	ID       string
	Document *document.Snapshot
	// Trace lists the pipeline states visited, starting with idle
	Trace []string
	Err   *MutationError
	// Input is the caller's data, returned untouched so a form can be kept
	Input document.Record
}

// OK reports whether the mutation committed
func (r Result) OK() bool {
	return r.Err == nil
}

// Kind returns the failure kind, or "" on success
func (r Result) Kind() document.FailureKind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}
