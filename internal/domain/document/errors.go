package document

import (
	"context"
	"errors"
	"fmt"
)

// Code is a store failure code
type Code string

const (
	CodePermissionDenied  Code = "permission-denied"
	CodeUnavailable       Code = "unavailable"
	CodeDeadlineExceeded  Code = "deadline-exceeded"
	CodeResourceExhausted Code = "resource-exhausted"
	CodeAborted           Code = "aborted"
	CodeNotFound          Code = "not-found"
	CodeAlreadyExists     Code = "already-exists"
	CodeInvalidArgument   Code = "invalid-argument"
	CodeInternal          Code = "internal"
)

// StoreError is the error every Store implementation returns
type StoreError struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a store error
func NewStoreError(code Code, message string) *StoreError {
	return &StoreError{Code: code, Message: message}
}

// WrapStoreError creates a store error with a cause
func WrapStoreError(code Code, cause error, message string) *StoreError {
	return &StoreError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the store code of err. Context errors map to their
// transient counterparts; anything else unrecognised is internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return CodeAborted
	}
	return CodeInternal
}

// IsPermissionDenied reports whether the store refused the operation
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == CodePermissionDenied
}

// IsNotFound reports whether the target document does not exist
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsTransient reports whether retrying the same operation may succeed
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeDeadlineExceeded, CodeResourceExhausted, CodeAborted:
		return true
	}
	return false
}
