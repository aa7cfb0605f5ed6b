package identity

import (
	"context"
	"strings"
)

// Identity is the signed-in principal. OwnerID scopes every collection the
// principal can reach; UserID identifies the person acting on it.
type Identity struct {
	OwnerID  string `json:"owner_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// IsZero reports whether no identity is present
func (i Identity) IsZero() bool {
	return strings.TrimSpace(i.OwnerID) == ""
}

// Provider exposes the current identity and its changes.
type Provider interface {
	// Current returns the identity, or false when nobody is signed in
	Current() (Identity, bool)
	// Watch registers fn to be called after every identity change, including
	// sign-out (ok == false). The returned func removes the watcher.
	Watch(fn func(id Identity, ok bool)) (cancel func())
}

// Static is a Provider whose identity never changes.
type Static struct {
	id Identity
}

// NewStatic returns a provider fixed to id
func NewStatic(id Identity) Static {
	return Static{id: id}
}

// Current returns the fixed identity
func (s Static) Current() (Identity, bool) {
	if s.id.IsZero() {
		return Identity{}, false
	}
	return s.id, true
}

// Watch never fires for a static provider
func (s Static) Watch(func(Identity, bool)) func() {
	return func() {}
}

type contextKey struct{}

// WithContext stores the identity in ctx
func WithContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity carried by ctx
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || id.IsZero() {
		return Identity{}, false
	}
	return id, true
}
