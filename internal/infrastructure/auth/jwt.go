package auth

import (
	"errors"
	"time"

	"github.com/erp/docsync/internal/domain/identity"
	"github.com/erp/docsync/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingOwnerID   = errors.New("missing owner_id in claims")
	ErrTokenRevoked     = errors.New("token has been revoked")
)

// Claims carries the identity a request acts as
type Claims struct {
	jwt.RegisteredClaims
	OwnerID  string `json:"owner_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// Identity converts the claims into the domain identity
func (c *Claims) Identity() identity.Identity {
	return identity.Identity{OwnerID: c.OwnerID, UserID: c.UserID, Username: c.Username}
}

// Token is a signed access token
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"` // Bearer
}

// JWTService issues and validates access tokens
type JWTService struct {
	secret     []byte
	expiration time.Duration
	issuer     string
	now        func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.Secret),
		expiration: cfg.AccessTokenExpiration,
		issuer:     cfg.Issuer,
		now:        time.Now,
	}
}

// GenerateToken signs a token for id
func (s *JWTService) GenerateToken(id identity.Identity) (*Token, error) {
	if id.IsZero() {
		return nil, ErrMissingOwnerID
	}
	now := s.now()
	expiresAt := now.Add(s.expiration)
	subject := id.UserID
	if subject == "" {
		subject = id.OwnerID
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		OwnerID:  id.OwnerID,
		UserID:   id.UserID,
		Username: id.Username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, ExpiresAt: expiresAt, TokenType: "Bearer"}, nil
}

// ValidateToken validates a token and returns its claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.OwnerID == "" {
		return nil, ErrMissingOwnerID
	}
	return claims, nil
}

// Remaining returns how long the claims stay valid
func (s *JWTService) Remaining(c *Claims) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(s.now())
}
