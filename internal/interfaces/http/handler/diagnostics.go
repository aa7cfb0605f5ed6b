package handler

import (
	"github.com/erp/docsync/internal/application/notification"
	"github.com/erp/docsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// PermissionErrorsResponse lists recent permission refusals for the caller
type PermissionErrorsResponse struct {
	Total  uint64                              `json:"total"`
	Recent []notification.PermissionDiagnostic `json:"recent"`
}

// DiagnosticsHandler exposes the permission diagnostics recorder
type DiagnosticsHandler struct {
	BaseHandler
	recorder *notification.DiagnosticsRecorder
}

// NewDiagnosticsHandler creates a new DiagnosticsHandler
func NewDiagnosticsHandler(recorder *notification.DiagnosticsRecorder) *DiagnosticsHandler {
	return &DiagnosticsHandler{recorder: recorder}
}

// PermissionErrors godoc
// @Summary      Recent permission errors
// @Description  Returns the caller's most recent permission refusals, newest first, with the request that was refused
// @Tags         diagnostics
// @Produce      json
// @Success      200 {object} APIResponse[PermissionErrorsResponse]
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /diagnostics/permission-errors [get]
func (h *DiagnosticsHandler) PermissionErrors(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		h.Unauthorized(c, "Sign in to continue")
		return
	}
	recent := h.recorder.Recent(id.OwnerID)
	if recent == nil {
		recent = []notification.PermissionDiagnostic{}
	}
	h.Success(c, PermissionErrorsResponse{
		Total:  h.recorder.Total(),
		Recent: recent,
	})
}
