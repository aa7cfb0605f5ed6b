package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/erp/docsync/internal/domain/identity"
	"github.com/erp/docsync/internal/infrastructure/auth"
	"github.com/erp/docsync/internal/infrastructure/logger"
	"github.com/erp/docsync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey  = "jwt_claims"
	IdentityKey   = "identity"
	OwnerIDKey    = "owner_id"
	UserIDKey     = "user_id"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	// AccessTokenQueryKey carries the token for EventSource clients, which
	// cannot set headers
	AccessTokenQueryKey = "access_token"
)

// JWTMiddlewareConfig holds configuration for JWT middleware
type JWTMiddlewareConfig struct {
	// JWTService is required for token validation
	JWTService *auth.JWTService
	// Revocations is optional for checking signed-out tokens
	Revocations auth.RevocationList
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	// SkipPathPrefixes are path prefixes that don't require authentication
	SkipPathPrefixes []string
	// AllowQueryToken accepts ?access_token= on GET requests
	AllowQueryToken bool
	// Logger for middleware logging
	Logger *zap.Logger
}

// DefaultJWTConfig returns default JWT middleware configuration
func DefaultJWTConfig(jwtService *auth.JWTService) JWTMiddlewareConfig {
	return JWTMiddlewareConfig{
		JWTService: jwtService,
		SkipPaths: []string{
			"/health",
			"/api/v1/health",
			"/api/v1/system/ping",
		},
		AllowQueryToken: true,
	}
}

// JWTAuthMiddleware creates JWT authentication middleware
func JWTAuthMiddleware(jwtService *auth.JWTService) gin.HandlerFunc {
	return JWTAuthMiddlewareWithConfig(DefaultJWTConfig(jwtService))
}

// JWTAuthMiddlewareWithConfig validates the bearer token and attaches the
// caller's identity to both the gin context and the request context
func JWTAuthMiddlewareWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	log := logger.OrNop(cfg.Logger)

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath {
				c.Next()
				return
			}
		}
		for _, prefix := range cfg.SkipPathPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		tokenString, err := extractToken(c, cfg.AllowQueryToken)
		if err != nil {
			handleAuthError(c, log, err)
			return
		}

		claims, err := cfg.JWTService.ValidateToken(tokenString)
		if err != nil {
			handleAuthError(c, log, err)
			return
		}

		if cfg.Revocations != nil && claims.ID != "" {
			revoked, err := cfg.Revocations.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				// Fail open for availability
				log.Error("Failed to check token revocation",
					zap.String("jti", claims.ID),
					zap.Error(err))
			} else if revoked {
				handleAuthError(c, log, auth.ErrTokenRevoked)
				return
			}
		}

		setIdentity(c, claims)

		log.Debug("JWT authentication successful",
			zap.String("owner_id", claims.OwnerID),
			zap.String("user_id", claims.UserID))

		c.Next()
	}
}

func extractToken(c *gin.Context, allowQuery bool) (string, error) {
	if header := c.GetHeader(AuthHeaderKey); header != "" {
		if !strings.HasPrefix(header, BearerPrefix) {
			return "", auth.ErrInvalidToken
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
		if token == "" {
			return "", auth.ErrInvalidToken
		}
		return token, nil
	}
	if allowQuery && c.Request.Method == http.MethodGet {
		if token := c.Query(AccessTokenQueryKey); token != "" {
			return token, nil
		}
	}
	return "", errMissingToken
}

var errMissingToken = errors.New("missing authorization header")

func setIdentity(c *gin.Context, claims *auth.Claims) {
	id := claims.Identity()
	c.Set(JWTClaimsKey, claims)
	c.Set(IdentityKey, id)
	c.Set(OwnerIDKey, id.OwnerID)
	c.Set(UserIDKey, id.UserID)

	ctx := identity.WithContext(c.Request.Context(), id)
	ctx = logger.WithOwner(ctx, id.OwnerID, id.UserID)
	c.Request = c.Request.WithContext(ctx)
}

// handleAuthError answers 401 with the code matching err
func handleAuthError(c *gin.Context, log *zap.Logger, err error) {
	log.Warn("JWT authentication failed",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path))

	code := dto.ErrCodeUnauthorized
	message := "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, message = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		code, message = dto.ErrCodeTokenRevoked, "Token has been revoked"
	case errors.Is(err, errMissingToken):
	default:
		code, message = dto.ErrCodeTokenInvalid, "Invalid token"
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponseWithRequestID(code, message, GetRequestID(c)))
}

// GetJWTClaims retrieves JWT claims from gin.Context
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(JWTClaimsKey); exists {
		if jwtClaims, ok := claims.(*auth.Claims); ok {
			return jwtClaims
		}
	}
	return nil
}

// GetIdentity returns the caller's identity, set by the JWT middleware
func GetIdentity(c *gin.Context) (identity.Identity, bool) {
	if v, exists := c.Get(IdentityKey); exists {
		if id, ok := v.(identity.Identity); ok && !id.IsZero() {
			return id, true
		}
	}
	return identity.FromContext(c.Request.Context())
}
