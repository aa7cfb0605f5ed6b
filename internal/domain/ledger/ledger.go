// Package ledger derives the monetary fields of financial documents from
// their line items and discount.
package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PricePlaces is the precision unit prices are rounded to before multiplying
const PricePlaces int32 = 2

// DiscountType selects how a discount value is applied to the subtotal
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// ParseDiscountType maps a stored discount type to a DiscountType.
// Anything other than a percentage spelling is treated as a fixed amount.
func ParseDiscountType(v any) DiscountType {
	s, _ := v.(string)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "percentage", "percent", "%":
		return DiscountPercentage
	default:
		return DiscountFixed
	}
}

// TotalPolicy decides what happens when the discount exceeds the subtotal
type TotalPolicy int

const (
	// TotalUnclamped lets the total go negative
	TotalUnclamped TotalPolicy = iota
	// TotalClampedAtZero floors the total at zero
	TotalClampedAtZero
)

// DefaultTotalPolicy applies to creates and edits alike
const DefaultTotalPolicy = TotalClampedAtZero

// ParseTotalPolicy maps "clamped" and "unclamped"; anything else is the default
func ParseTotalPolicy(s string) TotalPolicy {
	if strings.EqualFold(strings.TrimSpace(s), "unclamped") {
		return TotalUnclamped
	}
	return DefaultTotalPolicy
}

// ItemInput is a line item as submitted. Price and quantity are raw values
// and are coerced leniently.
type ItemInput struct {
	Name          string
	Specification string
	UnitPrice     any
	Quantity      any
}

// ItemInputFromMap reads an item from a schemaless record value
func ItemInputFromMap(m map[string]any) ItemInput {
	in := ItemInput{
		UnitPrice: m["unitPrice"],
		Quantity:  m["quantity"],
	}
	in.Name, _ = m["name"].(string)
	in.Specification, _ = m["specification"].(string)
	return in
}

// ItemInputsFrom reads the items value of a record. Non-map entries are
// skipped.
func ItemInputsFrom(v any) []ItemInput {
	switch items := v.(type) {
	case []ItemInput:
		return items
	case []map[string]any:
		out := make([]ItemInput, 0, len(items))
		for _, m := range items {
			out = append(out, ItemInputFromMap(m))
		}
		return out
	case []any:
		out := make([]ItemInput, 0, len(items))
		for _, raw := range items {
			if m, ok := raw.(map[string]any); ok {
				out = append(out, ItemInputFromMap(m))
			}
		}
		return out
	case []LineItem:
		out := make([]ItemInput, 0, len(items))
		for _, li := range items {
			out = append(out, ItemInput{
				Name:          li.Name,
				Specification: li.Specification,
				UnitPrice:     li.UnitPrice,
				Quantity:      li.Quantity,
			})
		}
		return out
	}
	return nil
}

// LineItem is a computed line
type LineItem struct {
	Name          string          `json:"name"`
	Specification string          `json:"specification,omitempty"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Quantity      decimal.Decimal `json:"quantity"`
	LineTotal     decimal.Decimal `json:"lineTotal"`
}

// Record returns the line as a schemaless map
func (li LineItem) Record() map[string]any {
	m := map[string]any{
		"name":      li.Name,
		"unitPrice": li.UnitPrice,
		"quantity":  li.Quantity,
		"lineTotal": li.LineTotal,
	}
	if li.Specification != "" {
		m["specification"] = li.Specification
	}
	return m
}

// Ledger holds the derived monetary fields
type Ledger struct {
	Items          []LineItem
	Discount       decimal.Decimal
	DiscountType   DiscountType
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

// Compute derives the ledger using DefaultTotalPolicy
func Compute(items []ItemInput, discount any, discountType DiscountType) Ledger {
	return ComputeWithPolicy(items, discount, discountType, DefaultTotalPolicy)
}

// ComputeWithPolicy derives the ledger. Each lineTotal is the unit price
// rounded to cents times the quantity; the subtotal is their plain sum.
func ComputeWithPolicy(items []ItemInput, discount any, discountType DiscountType, policy TotalPolicy) Ledger {
	l := Ledger{
		Items:        make([]LineItem, 0, len(items)),
		Discount:     Coerce(discount),
		DiscountType: discountType,
		Subtotal:     decimal.Zero,
	}
	for _, in := range items {
		price := Coerce(in.UnitPrice).Round(PricePlaces)
		qty := Coerce(in.Quantity)
		line := LineItem{
			Name:          in.Name,
			Specification: in.Specification,
			UnitPrice:     price,
			Quantity:      qty,
			LineTotal:     price.Mul(qty),
		}
		l.Items = append(l.Items, line)
		l.Subtotal = l.Subtotal.Add(line.LineTotal)
	}

	if discountType == DiscountPercentage {
		l.DiscountAmount = l.Subtotal.Mul(l.Discount).Div(decimal.NewFromInt(100))
	} else {
		l.DiscountAmount = l.Discount
	}

	l.Total = l.Subtotal.Sub(l.DiscountAmount)
	if policy == TotalClampedAtZero && l.Total.IsNegative() {
		l.Total = decimal.Zero
	}
	return l
}

// Fields returns the derived values keyed by their record field names
func (l Ledger) Fields() map[string]any {
	items := make([]any, 0, len(l.Items))
	for _, li := range l.Items {
		items = append(items, li.Record())
	}
	return map[string]any{
		"items":          items,
		"discount":       l.Discount,
		"discountType":   string(l.DiscountType),
		"subtotal":       l.Subtotal,
		"discountAmount": l.DiscountAmount,
		"total":          l.Total,
	}
}
