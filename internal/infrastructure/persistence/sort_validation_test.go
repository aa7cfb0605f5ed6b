package persistence

import (
	"testing"

	"github.com/erp/docsync/internal/domain/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSortOrder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected document.Direction
	}{
		{"empty string returns desc", "", document.Desc},
		{"asc returns asc", "asc", document.Asc},
		{"uppercase ASC returns asc", "ASC", document.Asc},
		{"desc returns desc", "desc", document.Desc},
		{"invalid value returns desc", "INVALID", document.Desc},
		{"injection attempt returns desc", "asc; DROP TABLE documents;--", document.Desc},
		{"whitespace around asc returns asc", "  asc  ", document.Asc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSortOrder(tt.input))
		})
	}
}

func TestValidateSortField(t *testing.T) {
	allowed := map[string]bool{"number": true, "issueDate": true}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string returns default", "", "issueDate"},
		{"valid field returns field", "number", "number"},
		{"unknown field returns default", "password", "issueDate"},
		{"whitespace is trimmed", "  number ", "number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSortField(tt.input, allowed, "issueDate"))
		})
	}
}

func TestSortFields(t *testing.T) {
	invoices, ok := document.Lookup(string(document.ResourceInvoices))
	require.True(t, ok)
	fields := SortFields(invoices)
	assert.True(t, fields["number"])
	assert.True(t, fields["issueDate"])
	assert.True(t, fields["total"])
	assert.False(t, fields["items"])
	assert.Equal(t, "issueDate", DefaultSortField(invoices))

	stock, ok := document.Lookup(string(document.ResourceStock))
	require.True(t, ok)
	fields = SortFields(stock)
	assert.True(t, fields["sku"])
	assert.True(t, fields["quantity"])
	assert.Equal(t, "lastCountedAt", DefaultSortField(stock))
}
