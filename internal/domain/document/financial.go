package document

import (
	"time"

	"github.com/erp/docsync/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// FinancialDocument is the typed view of invoices, quotes, bills and orders
type FinancialDocument struct {
	ID             string              `json:"id"`
	Number         string              `json:"number"`
	Party          string              `json:"party"`
	Status         string              `json:"status"`
	Currency       string              `json:"currency,omitempty"`
	IssueDate      *time.Time          `json:"issueDate,omitempty"`
	DueDate        *time.Time          `json:"dueDate,omitempty"`
	Items          []ledger.LineItem   `json:"items"`
	Discount       decimal.Decimal     `json:"discount"`
	DiscountType   ledger.DiscountType `json:"discountType"`
	Subtotal       decimal.Decimal     `json:"subtotal"`
	DiscountAmount decimal.Decimal     `json:"discountAmount"`
	Total          decimal.Decimal     `json:"total"`
	Notes          string              `json:"notes,omitempty"`
	CreatedAt      *time.Time          `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time          `json:"updatedAt,omitempty"`
}

// StockRecord is the typed view of stock documents
type StockRecord struct {
	ID            string          `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit,omitempty"`
	Location      string          `json:"location,omitempty"`
	ReorderLevel  decimal.Decimal `json:"reorderLevel"`
	LastCountedAt *time.Time      `json:"lastCountedAt,omitempty"`
	CreatedAt     *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time      `json:"updatedAt,omitempty"`
}

// NeedsReorder reports whether the quantity fell to the reorder level
func (s StockRecord) NeedsReorder() bool {
	return !s.ReorderLevel.IsZero() && s.Quantity.LessThanOrEqual(s.ReorderLevel)
}
