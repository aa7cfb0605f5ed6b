package dto

import (
	"net/http"

	"github.com/erp/docsync/internal/domain/document"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeUnavailable is used when the document store could not be reached
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeValidationFormat is used when a value cannot be normalized
	ErrCodeValidationFormat = "ERR_VALIDATION_FORMAT"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
	ErrCodeTokenRevoked = "ERR_TOKEN_REVOKED"
)

// Resource error codes
const (
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used for duplicate ids and business identifiers
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeStaleCursor is used when a cursor belongs to another query
	ErrCodeStaleCursor = "ERR_STALE_CURSOR"
)

// Input error codes
const (
	ErrCodeBadRequest     = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON    = "ERR_INVALID_JSON"
	ErrCodeInvalidCursor  = "ERR_INVALID_CURSOR"
	ErrCodeRequestTooBig  = "ERR_REQUEST_TOO_LARGE"
	ErrCodeTooManyStreams = "ERR_TOO_MANY_STREAMS"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:     http.StatusInternalServerError,
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,

	ErrCodeValidation:       http.StatusBadRequest,
	ErrCodeValidationFormat: http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,
	ErrCodeTokenRevoked: http.StatusUnauthorized,

	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeAlreadyExists: http.StatusConflict,
	ErrCodeStaleCursor:   http.StatusConflict,

	ErrCodeBadRequest:     http.StatusBadRequest,
	ErrCodeInvalidJSON:    http.StatusBadRequest,
	ErrCodeInvalidCursor:  http.StatusBadRequest,
	ErrCodeRequestTooBig:  http.StatusRequestEntityTooLarge,
	ErrCodeTooManyStreams: http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// FailureKindErrorCode maps classified store and pipeline failures to API
// error codes
var FailureKindErrorCode = map[document.FailureKind]string{
	document.FailureValidation:    ErrCodeValidation,
	document.FailureNormalization: ErrCodeValidationFormat,
	document.FailureUniqueness:    ErrCodeAlreadyExists,
	document.FailurePermission:    ErrCodeForbidden,
	document.FailureTransient:     ErrCodeUnavailable,
	document.FailureNotFound:      ErrCodeNotFound,
	document.FailureNoIdentity:    ErrCodeUnauthorized,
	document.FailureOther:         ErrCodeInternal,
}

// ErrorCodeForKind returns the API error code of a failure kind
func ErrorCodeForKind(kind document.FailureKind) string {
	if code, ok := FailureKindErrorCode[kind]; ok {
		return code
	}
	return ErrCodeUnknown
}
