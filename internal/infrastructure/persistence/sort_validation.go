package persistence

import (
	"strings"

	"github.com/erp/docsync/internal/domain/document"
)

// ValidateSortOrder normalizes a client supplied direction.
// Returns Desc if the input is invalid or empty.
func ValidateSortOrder(orderDir string) document.Direction {
	if strings.EqualFold(strings.TrimSpace(orderDir), string(document.Asc)) {
		return document.Asc
	}
	return document.Desc
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// financialSortFields are sortable on every ledger-backed resource
var financialSortFields = []string{"party", "status", "currency", "subtotal", "total"}

// SortFields returns the fields a resource may be ordered by: its
// identifier, its date fields and the summary columns.
func SortFields(spec document.ResourceSpec) map[string]bool {
	fields := map[string]bool{spec.IdentifierField: true}
	for _, f := range spec.DateFields {
		fields[f] = true
	}
	if spec.Ledger {
		for _, f := range financialSortFields {
			fields[f] = true
		}
		return fields
	}
	for f := range spec.Rules {
		fields[f] = true
	}
	for f := range spec.NumberRules {
		fields[f] = true
	}
	return fields
}

// DefaultSortField is the first date field, falling back to the identifier
func DefaultSortField(spec document.ResourceSpec) string {
	if len(spec.DateFields) > 0 {
		return spec.DateFields[0]
	}
	return spec.IdentifierField
}
