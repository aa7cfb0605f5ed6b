package document

import (
	"github.com/erp/docsync/internal/domain/shared"
)

// EventTypePermissionDenied is published once per refused store operation
const EventTypePermissionDenied = "PermissionDenied"

// PermissionErrorEvent describes a store refusal. It is the only channel
// through which permission failures are reported.
type PermissionErrorEvent struct {
	shared.BaseDomainEvent
	Path           string    `json:"path"`
	Operation      Operation `json:"operation"`
	RequestPayload Record    `json:"request_payload,omitempty"`
}

// NewPermissionErrorEvent creates the event; the owner is taken from path
func NewPermissionErrorEvent(path string, op Operation, payload Record) *PermissionErrorEvent {
	return &PermissionErrorEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePermissionDenied, OwnerOf(path)),
		Path:            path,
		Operation:       op,
		RequestPayload:  payload.Clone(),
	}
}

// PermissionEventFrom builds the event for a permission failure
func PermissionEventFrom(f *Failure) *PermissionErrorEvent {
	return NewPermissionErrorEvent(f.Path, f.Operation, f.Payload)
}
