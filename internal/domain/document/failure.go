package document

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FailureKind classifies why an operation against the store failed, which
// in turn decides where the failure is reported.
type FailureKind string

const (
	// FailureValidation is a rejected field; shown inline on the form
	FailureValidation FailureKind = "validation"
	// FailureNormalization is an unparseable value; shown inline on the form
	FailureNormalization FailureKind = "normalization"
	// FailureUniqueness is a duplicate business identifier
	FailureUniqueness FailureKind = "uniqueness"
	// FailurePermission is a store refusal; broadcast on the event bus
	FailurePermission FailureKind = "permission"
	// FailureTransient is a connectivity or timeout failure
	FailureTransient FailureKind = "transient"
	// FailureNotFound is a missing target document
	FailureNotFound FailureKind = "not_found"
	// FailureNoIdentity means nobody is signed in; nothing is reported
	FailureNoIdentity FailureKind = "no_identity"
	// FailureOther is anything else
	FailureOther FailureKind = "other"
)

// Operation names what was attempted against a path
type Operation string

const (
	OperationGet    Operation = "get"
	OperationList   Operation = "list"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Failure is a classified error. It carries enough context to build a
// permission event or a user notification.
type Failure struct {
	Kind      FailureKind
	Operation Operation
	Path      string
	// Payload is the attempted write with unset fields removed
	Payload Record
	// Fields maps field names to messages for validation failures
	Fields map[string]string
	Field  string
	Cause  error
}

// Error implements the error interface
func (f *Failure) Error() string {
	switch f.Kind {
	case FailureValidation:
		return "validation failed: " + f.fieldSummary()
	case FailureNormalization:
		return fmt.Sprintf("normalization failed on %s: %v", f.Field, f.Cause)
	case FailureUniqueness:
		return fmt.Sprintf("%s already exists in %s", f.Field, f.Path)
	case FailureNoIdentity:
		return "no signed-in identity"
	}
	if f.Cause != nil {
		return fmt.Sprintf("%s %s: %v", f.Operation, f.Path, f.Cause)
	}
	return fmt.Sprintf("%s %s: %s", f.Operation, f.Path, f.Kind)
}

// Unwrap returns the cause
func (f *Failure) Unwrap() error {
	return f.Cause
}

func (f *Failure) fieldSummary() string {
	keys := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+f.Fields[k])
	}
	return strings.Join(parts, "; ")
}

// Classify turns a store error into a Failure. Errors that are already
// classified are returned unchanged.
func Classify(err error, op Operation, path string, payload Record) *Failure {
	if err == nil {
		return nil
	}
	var classified *Failure
	if errors.As(err, &classified) {
		return classified
	}
	f := &Failure{Operation: op, Path: path, Payload: payload, Cause: err}
	switch code := CodeOf(err); {
	case code == CodePermissionDenied:
		f.Kind = FailurePermission
	case IsTransient(err):
		f.Kind = FailureTransient
	case code == CodeNotFound:
		f.Kind = FailureNotFound
	default:
		f.Kind = FailureOther
	}
	return f
}
