package document

import (
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Apply evaluates q over docs: filter, order by (field, id), skip up to the
// cursor, then limit. Without an order-by field documents are ordered by
// id. Documents missing the order-by field are excluded. docs is not
// modified.
func Apply(docs []Snapshot, q Query) []Snapshot {
	out := make([]Snapshot, 0, len(docs))
	for _, d := range docs {
		if !matchesAll(d, q.Where) {
			continue
		}
		if q.OrderBy != "" {
			if _, ok := d.Field(q.OrderBy); !ok {
				continue
			}
		}
		out = append(out, d)
	}

	desc := q.Direction == Desc
	sort.SliceStable(out, func(i, j int) bool {
		c := compareDocs(out[i], out[j], q.OrderBy)
		if desc {
			return c > 0
		}
		return c < 0
	})

	if q.StartAfter != nil {
		idx := sort.Search(len(out), func(i int) bool {
			c := comparePosition(out[i], q.OrderBy, q.StartAfter)
			if desc {
				return c < 0
			}
			return c > 0
		})
		out = out[idx:]
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// PositionOf returns the cursor position just after s for the given order
func PositionOf(s Snapshot, orderBy string) Position {
	p := Position{ID: s.ID}
	if orderBy != "" {
		p.Value, _ = s.Field(orderBy)
	}
	return p
}

func compareDocs(a, b Snapshot, orderBy string) int {
	if orderBy != "" {
		av, _ := a.Field(orderBy)
		bv, _ := b.Field(orderBy)
		if c := Compare(av, bv); c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

func comparePosition(s Snapshot, orderBy string, p *Position) int {
	if orderBy != "" {
		v, _ := s.Field(orderBy)
		if c := Compare(v, p.Value); c != 0 {
			return c
		}
	}
	return strings.Compare(s.ID, p.ID)
}

func matchesAll(d Snapshot, conds []Condition) bool {
	for _, c := range conds {
		v, ok := d.Field(c.Field)
		if !ok || !matches(v, c) {
			return false
		}
	}
	return true
}

func matches(v any, c Condition) bool {
	switch c.Op {
	case OpEqual:
		return Equal(v, c.Value)
	case OpNotEqual:
		return !Equal(v, c.Value)
	case OpLess:
		return comparable(v, c.Value) && Compare(v, c.Value) < 0
	case OpLessOrEqual:
		return comparable(v, c.Value) && Compare(v, c.Value) <= 0
	case OpGreater:
		return comparable(v, c.Value) && Compare(v, c.Value) > 0
	case OpGreaterOrEqual:
		return comparable(v, c.Value) && Compare(v, c.Value) >= 0
	case OpIn:
		list, _ := c.Value.([]any)
		for _, e := range list {
			if Equal(v, e) {
				return true
			}
		}
	}
	return false
}

func lookupField(r Record, name string) (any, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	var cur any = map[string]any(r)
	for _, part := range strings.Split(name, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return m, true
	}
	return nil, false
}

// value ranks order mixed types the way the store does: null, booleans,
// numbers, timestamps, strings, everything else.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case time.Time, *time.Time:
		return rankTime
	case string:
		return rankString
	case json.Number, decimal.Decimal, *decimal.Decimal,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return rankNumber
	}
	return rankOther
}

// Equal reports whether two field values are equal under store semantics
func Equal(a, b any) bool {
	if comparable(a, b) {
		return Compare(a, b) == 0
	}
	return reflect.DeepEqual(a, b)
}

// comparable reports whether a and b can be ordered against each other.
// Strings are comparable with numbers and timestamps when they parse as
// one, which is how values come back from the JSON backed store.
func comparable(a, b any) bool {
	ra, rb := rank(a), rank(b)
	if ra == rankOther || rb == rankOther {
		return false
	}
	if ra == rb {
		return true
	}
	switch {
	case ra == rankString && rb == rankNumber:
		_, ok := toDecimal(a)
		return ok
	case rb == rankString && ra == rankNumber:
		_, ok := toDecimal(b)
		return ok
	case ra == rankString && rb == rankTime:
		_, ok := toTime(a)
		return ok
	case rb == rankString && ra == rankTime:
		_, ok := toTime(b)
		return ok
	}
	return false
}

// Compare orders two field values. Values of unrelated types are ordered by
// type rank.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)

	if ra == rankTime || rb == rankTime {
		if at, ok := toTime(a); ok {
			if bt, ok := toTime(b); ok {
				return at.Compare(bt)
			}
		}
	}
	if ra == rankNumber || rb == rankNumber {
		if ad, ok := toDecimal(a); ok {
			if bd, ok := toDecimal(b); ok {
				return ad.Cmp(bd)
			}
		}
	}

	if ra != rb {
		return compareInt(ra, rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	case rankString:
		as, bs := a.(string), b.(string)
		if at, ok := toTime(as); ok {
			if bt, ok := toTime(bs); ok {
				return at.Compare(bt)
			}
		}
		if ad, ok := toDecimal(as); ok {
			if bd, ok := toDecimal(bs); ok {
				return ad.Cmp(bd)
			}
		}
		return strings.Compare(as, bs)
	}
	return 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if len(t) < len("2006-01-02T15:04:05Z") {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case json.Number:
		d, err := decimal.NewFromString(string(n))
		return d, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(n)), 0), true
	case uint8:
		return decimal.NewFromInt(int64(n)), true
	case uint16:
		return decimal.NewFromInt(int64(n)), true
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0), true
	}
	return decimal.Zero, false
}
