package document

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("write: %w", NewStoreError(CodeUnavailable, "down"))

	assert.Equal(t, CodeUnavailable, CodeOf(wrapped))
	assert.Equal(t, CodeDeadlineExceeded, CodeOf(context.DeadlineExceeded))
	assert.Equal(t, CodeAborted, CodeOf(context.Canceled))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestIsTransient(t *testing.T) {
	for _, code := range []Code{CodeUnavailable, CodeDeadlineExceeded, CodeResourceExhausted, CodeAborted} {
		assert.True(t, IsTransient(NewStoreError(code, "x")), code)
	}
	for _, code := range []Code{CodePermissionDenied, CodeNotFound, CodeInvalidArgument, CodeInternal} {
		assert.False(t, IsTransient(NewStoreError(code, "x")), code)
	}
}

func TestClassify(t *testing.T) {
	path := "owner/acme/invoices"
	payload := Record{"party": "Globex"}

	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"permission", NewStoreError(CodePermissionDenied, "no"), FailurePermission},
		{"unavailable", NewStoreError(CodeUnavailable, "offline"), FailureTransient},
		{"deadline", context.DeadlineExceeded, FailureTransient},
		{"not found", NewStoreError(CodeNotFound, "gone"), FailureNotFound},
		{"already exists", NewStoreError(CodeAlreadyExists, "dup"), FailureOther},
		{"plain error", errors.New("boom"), FailureOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err, OperationCreate, path, payload)
			assert.Equal(t, tt.want, f.Kind)
			assert.Equal(t, OperationCreate, f.Operation)
			assert.Equal(t, path, f.Path)
			assert.ErrorIs(t, f, tt.err)
		})
	}

	assert.Nil(t, Classify(nil, OperationGet, path, nil))

	already := &Failure{Kind: FailureUniqueness, Field: "number"}
	assert.Same(t, already, Classify(fmt.Errorf("wrap: %w", already), OperationCreate, path, nil))
}

func TestFailure_Error(t *testing.T) {
	f := &Failure{Kind: FailureValidation, Fields: map[string]string{"party": "is required", "currency": "must be 3 letters"}}
	assert.Equal(t, "validation failed: currency must be 3 letters; party is required", f.Error())
}

func TestNewPermissionErrorEvent(t *testing.T) {
	payload := Record{"party": "Globex"}
	evt := NewPermissionErrorEvent("owner/acme/invoices/inv-1", OperationUpdate, payload)
	payload["party"] = "changed"

	assert.Equal(t, EventTypePermissionDenied, evt.EventType())
	assert.Equal(t, "acme", evt.OwnerID())
	assert.Equal(t, OperationUpdate, evt.Operation)
	assert.Equal(t, "Globex", evt.RequestPayload["party"])
}
