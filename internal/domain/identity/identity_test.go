package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity_IsZero(t *testing.T) {
	assert.True(t, Identity{}.IsZero())
	assert.True(t, Identity{OwnerID: "  ", UserID: "u1"}.IsZero())
	assert.False(t, Identity{OwnerID: "acme"}.IsZero())
}

func TestContextRoundTrip(t *testing.T) {
	t.Run("returns stored identity", func(t *testing.T) {
		ctx := WithContext(context.Background(), Identity{OwnerID: "acme", UserID: "u1"})

		id, ok := FromContext(ctx)

		assert.True(t, ok)
		assert.Equal(t, "acme", id.OwnerID)
		assert.Equal(t, "u1", id.UserID)
	})

	t.Run("missing identity", func(t *testing.T) {
		_, ok := FromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("zero identity counts as missing", func(t *testing.T) {
		_, ok := FromContext(WithContext(context.Background(), Identity{}))
		assert.False(t, ok)
	})
}

func TestStatic(t *testing.T) {
	id, ok := NewStatic(Identity{OwnerID: "acme"}).Current()
	assert.True(t, ok)
	assert.Equal(t, "acme", id.OwnerID)

	_, ok = NewStatic(Identity{}).Current()
	assert.False(t, ok)
}
