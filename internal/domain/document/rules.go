package document

import (
	"context"
	"fmt"

	"github.com/erp/docsync/internal/domain/identity"
)

// AccessRule decides whether the caller in ctx may perform op on path.
// A nil error allows the operation.
type AccessRule func(ctx context.Context, op Operation, path CollectionPath) error

// OwnerScopeRule only lets an identity reach collections under its own
// owner id.
func OwnerScopeRule(ctx context.Context, op Operation, path CollectionPath) error {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return NewStoreError(CodePermissionDenied, fmt.Sprintf("%s %s: no identity", op, path))
	}
	if id.OwnerID != path.OwnerID {
		return NewStoreError(CodePermissionDenied, fmt.Sprintf("%s %s: not the owner", op, path))
	}
	return nil
}

// AllowAll permits every operation
func AllowAll(context.Context, Operation, CollectionPath) error {
	return nil
}
