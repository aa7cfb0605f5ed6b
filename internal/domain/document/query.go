package document

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Op is a filter operator
type Op string

const (
	OpEqual          Op = "=="
	OpNotEqual       Op = "!="
	OpLess           Op = "<"
	OpLessOrEqual    Op = "<="
	OpGreater        Op = ">"
	OpGreaterOrEqual Op = ">="
	OpIn             Op = "in"
)

// ParseOp accepts the symbolic operators plus short word forms used in URLs
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "==", "=", "eq":
		return OpEqual, nil
	case "!=", "ne":
		return OpNotEqual, nil
	case "<", "lt":
		return OpLess, nil
	case "<=", "lte":
		return OpLessOrEqual, nil
	case ">", "gt":
		return OpGreater, nil
	case ">=", "gte":
		return OpGreaterOrEqual, nil
	case "in":
		return OpIn, nil
	}
	return "", NewStoreError(CodeInvalidArgument, fmt.Sprintf("unsupported operator %q", s))
}

// Direction is a sort direction
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Condition filters on one field
type Condition struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Shape is the part of a query that identifies a result set: filters and
// ordering. Two queries with the same shape page through the same sequence.
type Shape struct {
	Where     []Condition `json:"where,omitempty"`
	OrderBy   string      `json:"order_by,omitempty"`
	Direction Direction   `json:"direction,omitempty"`
}

// Key returns a canonical string for the shape. Filter order does not
// matter.
func (s Shape) Key() string {
	conds := make([]string, 0, len(s.Where))
	for _, c := range s.Where {
		conds = append(conds, c.Field+string(c.Op)+keyValue(c.Value))
	}
	sort.Strings(conds)
	dir := s.Direction
	if dir == "" {
		dir = Asc
	}
	return strings.Join(conds, "&") + "|" + s.OrderBy + ":" + string(dir)
}

func keyValue(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = keyValue(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// Position is a keyset cursor: the order-by value and id of the last
// document already seen.
type Position struct {
	Value any    `json:"value"`
	ID    string `json:"id"`
}

// Query is a shape plus the window to return
type Query struct {
	Shape
	Limit      int       `json:"limit,omitempty"`
	StartAfter *Position `json:"start_after,omitempty"`
}

// Where starts a query with one filter
func Where(field string, op Op, value any) Query {
	return Query{Shape: Shape{Where: []Condition{{Field: field, Op: op, Value: value}}}}
}

// OrderedBy returns a query ordered by field
func OrderedBy(field string, dir Direction) Query {
	return Query{Shape: Shape{OrderBy: field, Direction: dir}}
}

// Validate rejects malformed queries
func (q Query) Validate() error {
	if q.Limit < 0 {
		return NewStoreError(CodeInvalidArgument, "limit must not be negative")
	}
	for _, c := range q.Where {
		if c.Field == "" {
			return NewStoreError(CodeInvalidArgument, "filter field is required")
		}
		if _, err := ParseOp(string(c.Op)); err != nil {
			return err
		}
		if c.Op == OpIn {
			if _, ok := c.Value.([]any); !ok {
				return NewStoreError(CodeInvalidArgument, fmt.Sprintf("filter on %s: in requires a list", c.Field))
			}
		}
	}
	if q.Direction != "" && q.Direction != Asc && q.Direction != Desc {
		return NewStoreError(CodeInvalidArgument, fmt.Sprintf("invalid direction %q", q.Direction))
	}
	if q.StartAfter != nil && q.OrderBy == "" && q.StartAfter.ID == "" {
		return NewStoreError(CodeInvalidArgument, "cursor requires an id")
	}
	return nil
}
