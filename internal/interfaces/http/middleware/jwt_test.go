package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erp/docsync/internal/domain/identity"
	"github.com/erp/docsync/internal/infrastructure/auth"
	"github.com/erp/docsync/internal/infrastructure/config"
	"github.com/erp/docsync/internal/interfaces/http/dto"
	"github.com/erp/docsync/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testOwner = identity.Identity{OwnerID: "acme", UserID: "u-1", Username: "ada"}

func newTestJWTService(expiration time.Duration) *auth.JWTService {
	return auth.NewJWTService(config.JWTConfig{
		Secret:                "test-secret-key-at-least-32-chars",
		AccessTokenExpiration: expiration,
		Issuer:                "test-issuer",
	})
}

func newTestToken(t *testing.T, svc *auth.JWTService) string {
	t.Helper()
	tok, err := svc.GenerateToken(testOwner)
	require.NoError(t, err)
	return tok.AccessToken
}

func authRouter(cfg JWTMiddlewareConfig, seen *identity.Identity) *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), JWTAuthMiddlewareWithConfig(cfg))
	handler := func(c *gin.Context) {
		id, _ := GetIdentity(c)
		*seen = id
		c.Status(http.StatusOK)
	}
	router.GET("/test", handler)
	router.POST("/test", handler)
	router.GET("/health", handler)
	return router
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	resp := testutil.DecodeEnvelope(t, rec.Body.Bytes())
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error, rec.Body.String())
	return resp.Error.Code
}

func TestJWTAuthMiddleware_ValidToken(t *testing.T) {
	svc := newTestJWTService(15 * time.Minute)
	var seen identity.Identity

	router := gin.New()
	router.Use(JWTAuthMiddleware(svc))
	router.GET("/test", func(c *gin.Context) {
		claims := GetJWTClaims(c)
		require.NotNil(t, claims)
		assert.Equal(t, "acme", claims.OwnerID)
		assert.Equal(t, "acme", c.GetString(OwnerIDKey))

		fromCtx, ok := identity.FromContext(c.Request.Context())
		assert.True(t, ok)
		seen = fromCtx
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+newTestToken(t, svc))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testOwner, seen)
}

func TestJWTAuthMiddleware_Rejections(t *testing.T) {
	svc := newTestJWTService(15 * time.Minute)
	expired := newTestJWTService(-time.Minute)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", dto.ErrCodeUnauthorized},
		{"wrong scheme", "Basic abc", dto.ErrCodeTokenInvalid},
		{"empty bearer", "Bearer ", dto.ErrCodeTokenInvalid},
		{"garbage", "Bearer not-a-token", dto.ErrCodeTokenInvalid},
		{"expired", "Bearer " + newTestToken(t, expired), dto.ErrCodeTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen identity.Identity
			router := authRouter(DefaultJWTConfig(svc), &seen)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
			assert.True(t, seen.IsZero())
		})
	}
}

func TestJWTAuthMiddleware_SkipPaths(t *testing.T) {
	var seen identity.Identity
	router := authRouter(DefaultJWTConfig(newTestJWTService(time.Minute)), &seen)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, seen.IsZero())
}

func TestJWTAuthMiddleware_QueryToken(t *testing.T) {
	svc := newTestJWTService(time.Minute)
	token := newTestToken(t, svc)

	t.Run("accepted on GET", func(t *testing.T) {
		var seen identity.Identity
		router := authRouter(DefaultJWTConfig(svc), &seen)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test?access_token="+token, nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "acme", seen.OwnerID)
	})

	t.Run("ignored on POST", func(t *testing.T) {
		var seen identity.Identity
		router := authRouter(DefaultJWTConfig(svc), &seen)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/test?access_token="+token, nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := DefaultJWTConfig(svc)
		cfg.AllowQueryToken = false
		var seen identity.Identity
		router := authRouter(cfg, &seen)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test?access_token="+token, nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

type failingRevocations struct{}

func (failingRevocations) Revoke(context.Context, string, time.Duration) error { return nil }
func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestJWTAuthMiddleware_Revocation(t *testing.T) {
	svc := newTestJWTService(time.Minute)
	token := newTestToken(t, svc)
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)

	t.Run("revoked token is rejected", func(t *testing.T) {
		revocations := auth.NewMemoryRevocationList()
		require.NoError(t, revocations.Revoke(context.Background(), claims.ID, time.Minute))

		cfg := DefaultJWTConfig(svc)
		cfg.Revocations = revocations
		var seen identity.Identity
		router := authRouter(cfg, &seen)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, dto.ErrCodeTokenRevoked, errorCode(t, rec))
	})

	t.Run("lookup failure fails open", func(t *testing.T) {
		cfg := DefaultJWTConfig(svc)
		cfg.Revocations = failingRevocations{}
		var seen identity.Identity
		router := authRouter(cfg, &seen)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "acme", seen.OwnerID)
	})
}

func TestGetIdentity_Absent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := GetIdentity(c)
	assert.False(t, ok)
	assert.Nil(t, GetJWTClaims(c))
}
