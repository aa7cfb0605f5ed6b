package handler

import (
	"errors"
	"net/http"
	"sort"

	"github.com/erp/docsync/internal/application/listing"
	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/shared"
	"github.com/erp/docsync/internal/interfaces/http/dto"
	"github.com/erp/docsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Page sends one page of a collection
func (h *BaseHandler) Page(c *gin.Context, data any, pageSize int, nextCursor string, hasMore bool) {
	c.JSON(http.StatusOK, dto.NewPageResponse(data, pageSize, nextCursor, hasMore))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		middleware.GetRequestID(c),
		details,
	))
}

// BindError answers a failed ShouldBind. Validation errors carry their
// field details; anything else is a malformed request.
func (h *BaseHandler) BindError(c *gin.Context, err error, code string) {
	if details := middleware.ValidationDetails(err); details != nil {
		h.ValidationError(c, details)
		return
	}
	h.ErrorWithCode(c, code, err.Error())
}

// HandleFailure answers with the status of a classified failure. Failed
// writes echo the caller's input back so the form can be kept.
func (h *BaseHandler) HandleFailure(c *gin.Context, f *document.Failure, input document.Record, trace []string) {
	code := dto.ErrorCodeForKind(f.Kind)
	resp := dto.NewErrorResponseWithRequestID(code, failureMessage(f), middleware.GetRequestID(c))
	resp.Error.Details = failureDetails(f)
	resp.Error.Retryable = f.Kind == document.FailureTransient
	if input != nil || len(trace) > 0 {
		resp.Data = dto.MutationErrorResponse{Input: input, Trace: trace}
	}
	c.JSON(dto.GetHTTPStatus(code), resp)
}

// HandleError is a generic error handler for classified failures, cursor
// errors and domain errors
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var failure *document.Failure
	if errors.As(err, &failure) {
		h.HandleFailure(c, failure, nil, nil)
		return
	}

	switch {
	case errors.Is(err, listing.ErrStaleCursor):
		h.ErrorWithCode(c, dto.ErrCodeStaleCursor, "Cursor does not belong to this query")
		return
	case errors.Is(err, listing.ErrInvalidCursor):
		h.ErrorWithCode(c, dto.ErrCodeInvalidCursor, "Cursor is malformed")
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.ErrorWithCode(c, domainCode(domainErr), domainErr.Message)
		return
	}

	h.InternalError(c, "An unexpected error occurred")
}

func domainCode(e *shared.DomainError) string {
	switch e.Code {
	case shared.ErrNotFound.Code, shared.ErrUnknownResource.Code:
		return dto.ErrCodeNotFound
	case shared.ErrAlreadyExists.Code:
		return dto.ErrCodeAlreadyExists
	case shared.ErrInvalidInput.Code:
		return dto.ErrCodeBadRequest
	case shared.ErrUnauthorized.Code, shared.ErrNoIdentity.Code:
		return dto.ErrCodeUnauthorized
	case shared.ErrForbidden.Code:
		return dto.ErrCodeForbidden
	}
	return dto.ErrCodeInternal
}

func failureMessage(f *document.Failure) string {
	switch f.Kind {
	case document.FailureValidation:
		return "Request validation failed"
	case document.FailureNormalization:
		return "A value could not be read"
	case document.FailureUniqueness:
		return "The " + f.Field + " is already in use"
	case document.FailurePermission:
		return "You do not have access to this collection"
	case document.FailureTransient:
		return "The document store is unreachable, try again"
	case document.FailureNotFound:
		return "Document not found"
	case document.FailureNoIdentity:
		return "Sign in to continue"
	}
	return "An unexpected error occurred"
}

func failureDetails(f *document.Failure) []dto.ValidationDetail {
	switch f.Kind {
	case document.FailureValidation:
		fields := make([]string, 0, len(f.Fields))
		for field := range f.Fields {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		details := make([]dto.ValidationDetail, 0, len(fields))
		for _, field := range fields {
			details = append(details, dto.ValidationDetail{Field: field, Message: f.Fields[field]})
		}
		return details
	case document.FailureNormalization:
		detail := dto.ValidationDetail{Field: f.Field, Message: "could not be parsed"}
		if f.Cause != nil {
			detail.Message = f.Cause.Error()
		}
		return []dto.ValidationDetail{detail}
	case document.FailureUniqueness:
		return []dto.ValidationDetail{{Field: f.Field, Message: "already exists"}}
	}
	return nil
}
