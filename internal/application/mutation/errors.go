// Package mutation is the single write path for documents: it validates,
// normalizes, checks identifiers, computes ledger fields and writes, and
// returns an explicit Result the caller routes.
package mutation

import "github.com/erp/docsync/internal/domain/document"

// MutationError is the classified failure carried by a Result
type MutationError = document.Failure

// Kind aliases for callers of this package
const (
	KindValidation    = document.FailureValidation
	KindNormalization = document.FailureNormalization
	KindUniqueness    = document.FailureUniqueness
	KindPermission    = document.FailurePermission
	KindTransient     = document.FailureTransient
	KindNotFound      = document.FailureNotFound
	KindNoIdentity    = document.FailureNoIdentity
	KindOther         = document.FailureOther
)
