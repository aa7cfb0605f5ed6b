package ledger

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCompute_PercentageDiscount(t *testing.T) {
	items := []ItemInput{
		{Name: "Widget", UnitPrice: 10.00, Quantity: 2},
		{Name: "Bolt", UnitPrice: "5", Quantity: 1},
	}

	l := Compute(items, 10, DiscountPercentage)

	assert.True(t, dec("20").Equal(l.Items[0].LineTotal))
	assert.True(t, dec("5").Equal(l.Items[1].LineTotal))
	assert.True(t, dec("25.00").Equal(l.Subtotal), l.Subtotal.String())
	assert.True(t, dec("2.50").Equal(l.DiscountAmount), l.DiscountAmount.String())
	assert.True(t, dec("22.50").Equal(l.Total), l.Total.String())
}

func TestCompute_FixedDiscount(t *testing.T) {
	items := []ItemInput{
		{Name: "Widget", UnitPrice: 10.00, Quantity: 2},
		{Name: "Bolt", UnitPrice: 5, Quantity: 1},
	}

	l := Compute(items, 5, DiscountFixed)

	assert.True(t, dec("25").Equal(l.Subtotal))
	assert.True(t, dec("5").Equal(l.DiscountAmount))
	assert.True(t, dec("20.00").Equal(l.Total))
}

func TestCompute_RoundsUnitPriceBeforeMultiplying(t *testing.T) {
	l := Compute([]ItemInput{{UnitPrice: "1.005", Quantity: 3}}, nil, DiscountFixed)

	assert.True(t, dec("1.01").Equal(l.Items[0].UnitPrice), l.Items[0].UnitPrice.String())
	assert.True(t, dec("3.03").Equal(l.Items[0].LineTotal), l.Items[0].LineTotal.String())
}

func TestCompute_SubtotalIsNotRounded(t *testing.T) {
	l := Compute([]ItemInput{{UnitPrice: "0.33", Quantity: "0.5"}}, 0, DiscountFixed)

	assert.True(t, dec("0.165").Equal(l.Subtotal), l.Subtotal.String())
}

func TestCompute_SubtotalIndependentOfItemOrder(t *testing.T) {
	items := []ItemInput{
		{UnitPrice: 19.99, Quantity: 3},
		{UnitPrice: "0.10", Quantity: 7},
		{UnitPrice: 1234.567, Quantity: "2"},
		{UnitPrice: 0, Quantity: 100},
	}
	reversed := make([]ItemInput, len(items))
	for i, it := range items {
		reversed[len(items)-1-i] = it
	}
	rotated := append(append([]ItemInput{}, items[2:]...), items[:2]...)

	base := Compute(items, 0, DiscountFixed).Subtotal
	assert.True(t, base.Equal(Compute(reversed, 0, DiscountFixed).Subtotal))
	assert.True(t, base.Equal(Compute(rotated, 0, DiscountFixed).Subtotal))
}

func TestCompute_ZeroDiscountKeepsTotalEqualToSubtotal(t *testing.T) {
	items := []ItemInput{{UnitPrice: 12.5, Quantity: 4}, {UnitPrice: "3.333", Quantity: 3}}

	for _, dt := range []DiscountType{DiscountPercentage, DiscountFixed} {
		for _, zero := range []any{0, "0", nil, "", 0.0} {
			l := Compute(items, zero, dt)
			assert.True(t, l.Total.Equal(l.Subtotal), "type=%s discount=%v", dt, zero)
			assert.True(t, l.DiscountAmount.IsZero())
		}
	}
}

func TestCompute_NonNumericInputsCountAsZero(t *testing.T) {
	items := []ItemInput{
		{Name: "bad price", UnitPrice: "abc", Quantity: 2},
		{Name: "bad qty", UnitPrice: 4, Quantity: "lots"},
		{Name: "missing", UnitPrice: nil, Quantity: nil},
		{Name: "nan", UnitPrice: math.NaN(), Quantity: 1},
		{Name: "ok", UnitPrice: 3, Quantity: 2},
	}

	l := Compute(items, "ten", DiscountPercentage)

	assert.True(t, dec("6").Equal(l.Subtotal))
	assert.True(t, l.DiscountAmount.IsZero())
	assert.True(t, dec("6").Equal(l.Total))
}

func TestComputeWithPolicy_DiscountExceedsSubtotal(t *testing.T) {
	items := []ItemInput{{UnitPrice: 10, Quantity: 1}}

	t.Run("clamped at zero", func(t *testing.T) {
		l := ComputeWithPolicy(items, 15, DiscountFixed, TotalClampedAtZero)
		assert.True(t, l.Total.IsZero())
		assert.True(t, dec("15").Equal(l.DiscountAmount))
	})

	t.Run("unclamped goes negative", func(t *testing.T) {
		l := ComputeWithPolicy(items, 15, DiscountFixed, TotalUnclamped)
		assert.True(t, dec("-5").Equal(l.Total))
	})

	t.Run("default policy clamps", func(t *testing.T) {
		l := Compute(items, 150, DiscountPercentage)
		assert.True(t, l.Total.IsZero())
	})
}

func TestCompute_EmptyItems(t *testing.T) {
	l := Compute(nil, 5, DiscountFixed)

	assert.Empty(t, l.Items)
	assert.True(t, l.Subtotal.IsZero())
	assert.True(t, l.Total.IsZero())
}

func TestParseDiscountType(t *testing.T) {
	assert.Equal(t, DiscountPercentage, ParseDiscountType("percentage"))
	assert.Equal(t, DiscountPercentage, ParseDiscountType(" Percent "))
	assert.Equal(t, DiscountPercentage, ParseDiscountType("%"))
	assert.Equal(t, DiscountFixed, ParseDiscountType("fixed"))
	assert.Equal(t, DiscountFixed, ParseDiscountType(""))
	assert.Equal(t, DiscountFixed, ParseDiscountType(nil))
	assert.Equal(t, DiscountFixed, ParseDiscountType(42))
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "0"},
		{"int", 7, "7"},
		{"int64", int64(-3), "-3"},
		{"uint", uint(9), "9"},
		{"float", 2.5, "2.5"},
		{"string", " 12.75 ", "12.75"},
		{"empty string", "", "0"},
		{"garbage", "1,000", "0"},
		{"json number", json.Number("4.2"), "4.2"},
		{"decimal", dec("1.1"), "1.1"},
		{"bool", true, "0"},
		{"inf", math.Inf(1), "0"},
		{"map", map[string]any{"a": 1}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Coerce(tt.in)
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestItemInputsFrom(t *testing.T) {
	raw := []any{
		map[string]any{"name": "A", "unitPrice": 1, "quantity": 2},
		"not an item",
		map[string]any{"name": "B", "specification": "blue", "unitPrice": "3", "quantity": "4"},
	}

	items := ItemInputsFrom(raw)

	assert.Len(t, items, 2)
	assert.Equal(t, "A", items[0].Name)
	assert.Equal(t, "blue", items[1].Specification)
	assert.Nil(t, ItemInputsFrom("nope"))
}

func TestLedger_Fields(t *testing.T) {
	l := Compute([]ItemInput{{Name: "A", UnitPrice: 2, Quantity: 3}}, 1, DiscountFixed)

	f := l.Fields()

	assert.Equal(t, "fixed", f["discountType"])
	assert.True(t, dec("5").Equal(f["total"].(decimal.Decimal)))
	items := f["items"].([]any)
	assert.Len(t, items, 1)
	assert.Equal(t, "A", items[0].(map[string]any)["name"])
	assert.NotContains(t, items[0].(map[string]any), "specification")
}

func TestParseTotalPolicy(t *testing.T) {
	assert.Equal(t, TotalUnclamped, ParseTotalPolicy("unclamped"))
	assert.Equal(t, TotalUnclamped, ParseTotalPolicy(" Unclamped "))
	assert.Equal(t, TotalClampedAtZero, ParseTotalPolicy("clamped"))
	assert.Equal(t, DefaultTotalPolicy, ParseTotalPolicy(""))
}
