package mutation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/erp/docsync/internal/domain/document"
)

// Prechecker looks for an existing document with the same business
// identifier before a write. The check is advisory: two concurrent callers
// can both see "unique" and both write.
type Prechecker struct {
	store document.Store
	clock func() time.Time
}

// NewPrechecker creates a prechecker over store
func NewPrechecker(store document.Store, clock func() time.Time) *Prechecker {
	if clock == nil {
		clock = time.Now
	}
	return &Prechecker{store: store, clock: clock}
}

// CheckUnique reports whether no document in path has field == value
func (p *Prechecker) CheckUnique(ctx context.Context, path document.CollectionPath, field string, value any) (bool, error) {
	return p.CheckUniqueExcept(ctx, path, field, value, "")
}

// CheckUniqueExcept is CheckUnique ignoring the document exceptID, used
// when editing that document.
func (p *Prechecker) CheckUniqueExcept(ctx context.Context, path document.CollectionPath, field string, value any, exceptID string) (bool, error) {
	limit := 1
	if exceptID != "" {
		limit = 2
	}
	q := document.Where(field, document.OpEqual, value)
	q.Limit = limit
	docs, err := p.store.Query(ctx, path, q)
	if err != nil {
		return false, err
	}
	for _, d := range docs {
		if d.ID != exceptID {
			return false, nil
		}
	}
	return true, nil
}

// SynthesizeIdentifier returns PREFIX-<epoch millis>
func (p *Prechecker) SynthesizeIdentifier(prefix string) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "DOC"
	}
	return fmt.Sprintf("%s-%d", prefix, p.clock().UnixMilli())
}
