package dto

import (
	"time"

	"github.com/erp/docsync/internal/domain/document"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string             `json:"code"`
	Message   string             `json:"message"`
	RequestID string             `json:"request_id,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Details   []ValidationDetail `json:"details,omitempty"`
	// Retryable is set when repeating the request may succeed
	Retryable bool `json:"retryable,omitempty"`
}

// ValidationDetail is one rejected field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Meta represents keyset pagination metadata
type Meta struct {
	PageSize   int    `json:"page_size"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewPageResponse creates a success response for one page of a collection
func NewPageResponse(data interface{}, pageSize int, nextCursor string, hasMore bool) Response {
	return Response{
		Success: true,
		Data:    data,
		Meta: &Meta{
			PageSize:   pageSize,
			NextCursor: nextCursor,
			HasMore:    hasMore,
		},
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return NewErrorResponseWithRequestID(code, message, "")
}

// NewErrorResponseWithRequestID creates an error response tagged with the
// request id
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: requestID,
			Timestamp: time.Now(),
		},
	}
}

// NewValidationErrorResponse creates a validation error response with
// per-field details
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	resp := NewErrorResponseWithRequestID(ErrCodeValidation, message, requestID)
	resp.Error.Details = details
	return resp
}

// PageRequest holds the query parameters of a collection listing
type PageRequest struct {
	Limit    int      `form:"limit" binding:"omitempty,min=1,max=200"`
	Cursor   string   `form:"cursor"`
	OrderBy  string   `form:"order_by"`
	OrderDir string   `form:"order_dir" binding:"omitempty,oneof=asc desc"`
	Where    []string `form:"where"`
}

// DocumentResponse is a stored document as returned by the API
type DocumentResponse struct {
	ID        string          `json:"id"`
	Path      string          `json:"path"`
	Data      document.Record `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ToDocumentResponse converts a snapshot
func ToDocumentResponse(s document.Snapshot) DocumentResponse {
	return DocumentResponse{
		ID:        s.ID,
		Path:      s.Path,
		Data:      s.Data,
		CreatedAt: s.CreateTime,
		UpdatedAt: s.UpdateTime,
	}
}

// ToDocumentResponses converts a list of snapshots
func ToDocumentResponses(snaps []document.Snapshot) []DocumentResponse {
	out := make([]DocumentResponse, len(snaps))
	for i, s := range snaps {
		out[i] = ToDocumentResponse(s)
	}
	return out
}

// MutationErrorResponse is returned with a failed write so the form can be
// restored from Input
type MutationErrorResponse struct {
	Input document.Record `json:"input,omitempty"`
	Trace []string        `json:"trace,omitempty"`
}
