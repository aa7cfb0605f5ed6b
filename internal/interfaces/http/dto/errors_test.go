package dto

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeUnknown, http.StatusInternalServerError},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeUnavailable, http.StatusServiceUnavailable},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeValidationFormat, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeTokenExpired, http.StatusUnauthorized},
		{ErrCodeTokenRevoked, http.StatusUnauthorized},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeAlreadyExists, http.StatusConflict},
		{ErrCodeStaleCursor, http.StatusConflict},
		{ErrCodeInvalidCursor, http.StatusBadRequest},
		{ErrCodeRequestTooBig, http.StatusRequestEntityTooLarge},
		{ErrCodeTooManyStreams, http.StatusServiceUnavailable},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestErrorCodeForKind(t *testing.T) {
	tests := []struct {
		kind     document.FailureKind
		expected string
	}{
		{document.FailureValidation, ErrCodeValidation},
		{document.FailureNormalization, ErrCodeValidationFormat},
		{document.FailureUniqueness, ErrCodeAlreadyExists},
		{document.FailurePermission, ErrCodeForbidden},
		{document.FailureTransient, ErrCodeUnavailable},
		{document.FailureNotFound, ErrCodeNotFound},
		{document.FailureNoIdentity, ErrCodeUnauthorized},
		{document.FailureOther, ErrCodeInternal},
		{"bogus", ErrCodeUnknown},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.expected, ErrorCodeForKind(tt.kind))
		})
	}
}

func TestEveryFailureKindHasStatus(t *testing.T) {
	for kind, code := range FailureKindErrorCode {
		_, ok := ErrorCodeHTTPStatus[code]
		assert.True(t, ok, "kind %s maps to %s which has no status", kind, code)
	}
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	before := time.Now()
	resp := NewErrorResponseWithRequestID(ErrCodeNotFound, "Document not found", "req-123")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "Document not found", resp.Error.Message)
	assert.Equal(t, "req-123", resp.Error.RequestID)
	assert.False(t, resp.Error.Timestamp.Before(before))
}

func TestNewValidationErrorResponse(t *testing.T) {
	details := []ValidationDetail{
		{Field: "party", Message: "is required"},
		{Field: "items[0].quantity", Message: "must be at least 0"},
	}
	resp := NewValidationErrorResponse("Validation failed", "req-789", details)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "req-789", resp.Error.RequestID)
	assert.Equal(t, details, resp.Error.Details)
}

func TestErrorResponseJSON(t *testing.T) {
	data, err := json.Marshal(NewErrorResponseWithRequestID(ErrCodeForbidden, "denied", "req-1"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.NotContains(t, decoded, "data")
	errMap := decoded["error"].(map[string]any)
	assert.Equal(t, ErrCodeForbidden, errMap["code"])
	assert.Equal(t, "req-1", errMap["request_id"])
	assert.NotContains(t, errMap, "details")
}

func TestNewPageResponse(t *testing.T) {
	resp := NewPageResponse([]string{"a", "b"}, 2, "abc", true)

	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 2, resp.Meta.PageSize)
	assert.Equal(t, "abc", resp.Meta.NextCursor)
	assert.True(t, resp.Meta.HasMore)
}

func TestToDocumentResponse(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := document.Snapshot{
		ID: "inv-1", Path: "owner/acme/invoices/inv-1",
		Data:       document.Record{"party": "Globex"},
		CreateTime: at, UpdateTime: at.Add(time.Minute),
	}

	got := ToDocumentResponses([]document.Snapshot{snap})
	require.Len(t, got, 1)
	assert.Equal(t, "inv-1", got[0].ID)
	assert.Equal(t, "Globex", got[0].Data["party"])
	assert.Equal(t, at, got[0].CreatedAt)
	assert.Equal(t, at.Add(time.Minute), got[0].UpdatedAt)
}
