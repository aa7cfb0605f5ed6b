package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList invalidates tokens before they expire, e.g. on sign-out
type RevocationList interface {
	// Revoke marks a token id revoked for ttl, the token's remaining lifetime
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	// IsRevoked reports whether a token id was revoked
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisRevocationList keeps revoked token ids in Redis
type RedisRevocationList struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisRevocationList creates a revocation list on an existing client
func NewRedisRevocationList(client redis.UniversalClient) *RedisRevocationList {
	return &RedisRevocationList{
		client:    client,
		keyPrefix: "docsync:revoked:",
	}
}

func (r *RedisRevocationList) key(jti string) string {
	return r.keyPrefix + jti
}

// Revoke stores the token id with a TTL
func (r *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked checks for the token id
func (r *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}

var _ RevocationList = (*RedisRevocationList)(nil)

// MemoryRevocationList is a single-process revocation list
type MemoryRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time // jti -> expiry
	now     func() time.Time
}

// NewMemoryRevocationList creates an empty list
func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{revoked: make(map[string]time.Time), now: time.Now}
}

// Revoke records the token id until ttl elapses
func (m *MemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = m.now().Add(ttl)
	return nil
}

// IsRevoked reports an unexpired revocation
func (m *MemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.revoked[jti]
	if !ok {
		return false, nil
	}
	if m.now().After(expiry) {
		delete(m.revoked, jti)
		return false, nil
	}
	return true, nil
}

var _ RevocationList = (*MemoryRevocationList)(nil)
