// Package listing reads owner collections one page at a time using keyset
// cursors.
package listing

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erp/docsync/internal/domain/document"
)

// ErrStaleCursor is returned when a cursor is used with a query shape other
// than the one that produced it.
var ErrStaleCursor = errors.New("cursor belongs to a different query")

// ErrInvalidCursor is returned for cursors that cannot be decoded
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks the last document of a page
type Cursor struct {
	ShapeKey string `json:"k"`
	Value    any    `json:"v,omitempty"`
	ID       string `json:"id"`
}

// CursorAfter returns the cursor following snap in a result of shape
func CursorAfter(shape document.Shape, snap document.Snapshot) *Cursor {
	pos := document.PositionOf(snap, shape.OrderBy)
	return &Cursor{ShapeKey: shape.Key(), Value: pos.Value, ID: pos.ID}
}

// Matches reports whether the cursor was produced by shape
func (c *Cursor) Matches(shape document.Shape) bool {
	return c == nil || c.ShapeKey == shape.Key()
}

func (c *Cursor) position() *document.Position {
	if c == nil {
		return nil
	}
	return &document.Position{Value: c.Value, ID: c.ID}
}

// EncodeCursor renders c as an opaque URL-safe token
func EncodeCursor(c *Cursor) (string, error) {
	if c == nil {
		return "", nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses a token from EncodeCursor. An empty token is no
// cursor.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var c Cursor
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	return &c, nil
}
