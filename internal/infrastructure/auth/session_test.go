package auth

import (
	"testing"

	"github.com/erp/docsync/internal/domain/identity"
	"github.com/stretchr/testify/assert"
)

type identityChange struct {
	id identity.Identity
	ok bool
}

func TestSession_SignInAndOut(t *testing.T) {
	s := NewSession()
	_, ok := s.Current()
	assert.False(t, ok)

	var changes []identityChange
	cancel := s.Watch(func(id identity.Identity, ok bool) {
		changes = append(changes, identityChange{id, ok})
	})
	defer cancel()

	s.SetIdentity(testIdentity())
	s.SetIdentity(testIdentity())
	got, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, testIdentity(), got)

	s.Clear()
	s.Clear()
	_, ok = s.Current()
	assert.False(t, ok)

	assert.Equal(t, []identityChange{
		{testIdentity(), true},
		{identity.Identity{}, false},
	}, changes)
}

func TestSession_SetZeroIdentitySignsOut(t *testing.T) {
	s := NewSessionFor(testIdentity())
	signedOut := false
	s.Watch(func(_ identity.Identity, ok bool) { signedOut = !ok })

	s.SetIdentity(identity.Identity{OwnerID: "  "})
	assert.True(t, signedOut)
}

func TestSession_WatchCancel(t *testing.T) {
	s := NewSession()
	var order []string
	cancelA := s.Watch(func(identity.Identity, bool) { order = append(order, "a") })
	s.Watch(func(identity.Identity, bool) { order = append(order, "b") })

	s.SetIdentity(testIdentity())
	cancelA()
	cancelA()
	s.Clear()

	assert.Equal(t, []string{"a", "b", "b"}, order)
}
