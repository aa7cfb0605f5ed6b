package normalize

import (
	"fmt"

	"github.com/erp/docsync/internal/domain/document"
)

type undefined struct{}

// Undefined marks a field the caller did not set. Unlike nil, which clears a
// field, an Undefined value never reaches the store.
var Undefined = undefined{}

func (undefined) String() string { return "undefined" }

// IsUndefined reports whether v is the Undefined sentinel
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Optional returns *p, or Undefined when p is nil
func Optional[T any](p *T) any {
	if p == nil {
		return Undefined
	}
	return *p
}

// NormalizationError reports a value that could not be converted
type NormalizationError struct {
	Field string
	Value any
	Err   error
}

// Error implements the error interface
func (e *NormalizationError) Error() string {
	return fmt.Sprintf("field %s: cannot normalize %v: %v", e.Field, e.Value, e.Err)
}

// Unwrap returns the underlying parse error
func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// Schema lists the fields Normalize converts
type Schema struct {
	DateFields []string
	// ServerTimestampFallback lists date fields that take the store clock
	// instead of failing when their value cannot be parsed
	ServerTimestampFallback []string
}

// SchemaFor derives the schema of a resource
func SchemaFor(spec document.ResourceSpec) Schema {
	return Schema{
		DateFields:              spec.DateFields,
		ServerTimestampFallback: spec.ServerTimestampDates,
	}
}

// StripUndefined returns a copy of r without top-level Undefined values
func StripUndefined(r document.Record) document.Record {
	out := make(document.Record, len(r))
	for k, v := range r {
		if IsUndefined(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// Normalize strips Undefined values and converts the schema's date fields
// to canonical UTC times. Absent fields stay absent and nil values are kept
// as explicit clears. raw is not modified.
func Normalize(raw document.Record, schema Schema) (document.Record, error) {
	out := StripUndefined(raw)

	fallback := make(map[string]bool, len(schema.ServerTimestampFallback))
	for _, f := range schema.ServerTimestampFallback {
		fallback[f] = true
	}

	for _, field := range schema.DateFields {
		v, ok := out[field]
		if !ok || v == nil || v == document.ServerTimestamp {
			continue
		}
		t, err := canonicalDate(v)
		if err != nil {
			if fallback[field] {
				out[field] = document.ServerTimestamp
				continue
			}
			return nil, &NormalizationError{Field: field, Value: v, Err: err}
		}
		out[field] = t
	}
	return out, nil
}

func canonicalDate(v any) (any, error) {
	in, err := ParseDate(v)
	if err != nil {
		return nil, err
	}
	return in.Canonical()
}
