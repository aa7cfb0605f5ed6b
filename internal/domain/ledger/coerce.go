package ledger

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Coerce converts a loosely typed numeric value to a decimal. Values that
// cannot be read as a finite number become zero.
func Coerce(v any) decimal.Decimal {
	switch n := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return n
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero
		}
		return *n
	case decimal.NullDecimal:
		if !n.Valid {
			return decimal.Zero
		}
		return n.Decimal
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(n)
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat32(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int8:
		return decimal.NewFromInt(int64(n))
	case int16:
		return decimal.NewFromInt(int64(n))
	case int32:
		return decimal.NewFromInt32(n)
	case int64:
		return decimal.NewFromInt(n)
	case uint:
		return fromUint(uint64(n))
	case uint8:
		return fromUint(uint64(n))
	case uint16:
		return fromUint(uint64(n))
	case uint32:
		return fromUint(uint64(n))
	case uint64:
		return fromUint(n)
	case json.Number:
		return parseOrZero(string(n))
	case string:
		return parseOrZero(n)
	}
	return decimal.Zero
}

func parseOrZero(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func fromUint(n uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0)
}
