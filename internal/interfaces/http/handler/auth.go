package handler

import (
	"github.com/erp/docsync/internal/domain/identity"
	"github.com/erp/docsync/internal/infrastructure/auth"
	"github.com/erp/docsync/internal/interfaces/http/dto"
	"github.com/erp/docsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthHandler handles sign-out and, outside production, token issuing
type AuthHandler struct {
	BaseHandler
	jwt         *auth.JWTService
	revocations auth.RevocationList
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(jwt *auth.JWTService, revocations auth.RevocationList, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{jwt: jwt, revocations: revocations, logger: logger}
}

// IssueTokenRequest names the identity a development token acts as
type IssueTokenRequest struct {
	OwnerID  string `json:"owner_id" binding:"required,max=128"`
	UserID   string `json:"user_id" binding:"omitempty,max=128"`
	Username string `json:"username" binding:"omitempty,max=100"`
}

// SignOutResponse represents the sign-out response
type SignOutResponse struct {
	Message string `json:"message" example:"Signed out successfully"`
}

// SignOut godoc
// @Summary      Sign out
// @Description  Revokes the current token. Open streams using it end with a signed_out event on their next check.
// @Tags         auth
// @Produce      json
// @Success      200 {object} dto.Response{data=SignOutResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /auth/sign-out [post]
func (h *AuthHandler) SignOut(c *gin.Context) {
	claims := middleware.GetJWTClaims(c)
	if claims == nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	if h.revocations != nil && claims.ID != "" {
		if err := h.revocations.Revoke(c.Request.Context(), claims.ID, h.jwt.Remaining(claims)); err != nil {
			h.logger.Error("Failed to revoke token", zap.String("owner_id", claims.OwnerID), zap.Error(err))
			h.InternalError(c, "Failed to sign out")
			return
		}
	}

	h.Success(c, SignOutResponse{Message: "Signed out successfully"})
}

// IssueToken godoc
// @Summary      Issue a development token
// @Description  Signs a token for the given owner. Only mounted outside production.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body IssueTokenRequest true "Identity"
// @Success      200 {object} dto.Response{data=auth.Token}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /auth/token [post]
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err, dto.ErrCodeInvalidJSON)
		return
	}
	if req.UserID == "" {
		req.UserID = uuid.New().String()
	}

	token, err := h.jwt.GenerateToken(identity.Identity{
		OwnerID:  req.OwnerID,
		UserID:   req.UserID,
		Username: req.Username,
	})
	if err != nil {
		h.logger.Error("Failed to issue token", zap.Error(err))
		h.InternalError(c, "Failed to issue token")
		return
	}
	h.Success(c, token)
}
