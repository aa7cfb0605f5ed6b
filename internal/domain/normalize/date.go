// Package normalize canonicalizes loosely typed document payloads before
// they are written.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// DateKind tags the representation a date arrived in
type DateKind int

const (
	KindNativeDate DateKind = iota + 1
	KindEpochMillis
	KindISOString
	KindStoreTimestamp
)

// String returns the kind name
func (k DateKind) String() string {
	switch k {
	case KindNativeDate:
		return "native"
	case KindEpochMillis:
		return "epoch_millis"
	case KindISOString:
		return "iso_string"
	case KindStoreTimestamp:
		return "store_timestamp"
	}
	return "unknown"
}

// StoreTimestamp is the seconds/nanoseconds form documents come back in
type StoreTimestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int32 `json:"nanoseconds"`
}

// DateInput is a date in one of the accepted representations
type DateInput struct {
	Kind   DateKind
	native time.Time
	millis int64
	iso    string
	ts     StoreTimestamp
}

// FromNative wraps a time value
func FromNative(t time.Time) DateInput {
	return DateInput{Kind: KindNativeDate, native: t}
}

// FromEpochMillis wraps milliseconds since the Unix epoch
func FromEpochMillis(ms int64) DateInput {
	return DateInput{Kind: KindEpochMillis, millis: ms}
}

// FromISO wraps an ISO-8601 string
func FromISO(s string) DateInput {
	return DateInput{Kind: KindISOString, iso: s}
}

// FromStoreTimestamp wraps a store timestamp
func FromStoreTimestamp(ts StoreTimestamp) DateInput {
	return DateInput{Kind: KindStoreTimestamp, ts: ts}
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Canonical returns the date in UTC at millisecond precision
func (d DateInput) Canonical() (time.Time, error) {
	var t time.Time
	switch d.Kind {
	case KindNativeDate:
		if d.native.IsZero() {
			return time.Time{}, fmt.Errorf("zero time")
		}
		t = d.native
	case KindEpochMillis:
		t = time.UnixMilli(d.millis)
	case KindISOString:
		parsed, err := parseISO(d.iso)
		if err != nil {
			return time.Time{}, err
		}
		t = parsed
	case KindStoreTimestamp:
		if d.ts.Nanoseconds < 0 || d.ts.Nanoseconds > 999_999_999 {
			return time.Time{}, fmt.Errorf("nanoseconds out of range: %d", d.ts.Nanoseconds)
		}
		t = time.Unix(d.ts.Seconds, int64(d.ts.Nanoseconds))
	default:
		return time.Time{}, fmt.Errorf("unknown date kind %d", d.Kind)
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

func parseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date string")
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// Denormalize renders a canonical time back into the given representation
func Denormalize(t time.Time, kind DateKind) DateInput {
	switch kind {
	case KindEpochMillis:
		return FromEpochMillis(t.UnixMilli())
	case KindISOString:
		return FromISO(t.UTC().Format(time.RFC3339Nano))
	case KindStoreTimestamp:
		return FromStoreTimestamp(StoreTimestamp{Seconds: t.Unix(), Nanoseconds: int32(t.Nanosecond())})
	}
	return FromNative(t)
}

// ParseDate classifies a raw value. Integers and integral floats are epoch
// milliseconds; strings are ISO-8601; maps with seconds and nanoseconds are
// store timestamps.
func ParseDate(raw any) (DateInput, error) {
	switch v := raw.(type) {
	case DateInput:
		return v, nil
	case time.Time:
		return FromNative(v), nil
	case *time.Time:
		if v == nil {
			return DateInput{}, fmt.Errorf("nil time")
		}
		return FromNative(*v), nil
	case StoreTimestamp:
		return FromStoreTimestamp(v), nil
	case int:
		return FromEpochMillis(int64(v)), nil
	case int32:
		return FromEpochMillis(int64(v)), nil
	case int64:
		return FromEpochMillis(v), nil
	case float64:
		// 2^63 is exactly representable; MaxInt64 as a float rounds up to it
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) ||
			v < math.MinInt64 || v >= -math.MinInt64 {
			return DateInput{}, fmt.Errorf("not an epoch millisecond value: %v", v)
		}
		return FromEpochMillis(int64(v)), nil
	case json.Number:
		ms, err := v.Int64()
		if err != nil {
			return DateInput{}, fmt.Errorf("not an epoch millisecond value: %s", v)
		}
		return FromEpochMillis(ms), nil
	case string:
		return FromISO(v), nil
	case map[string]any:
		return storeTimestampFromMap(v)
	}
	return DateInput{}, fmt.Errorf("unsupported date type %T", raw)
}

func storeTimestampFromMap(m map[string]any) (DateInput, error) {
	secs, ok := m["seconds"]
	if !ok {
		secs, ok = m["_seconds"]
	}
	if !ok {
		return DateInput{}, fmt.Errorf("timestamp map without seconds")
	}
	nanos, ok := m["nanoseconds"]
	if !ok {
		nanos = m["_nanoseconds"]
	}
	s, ok := integral(secs)
	if !ok {
		return DateInput{}, fmt.Errorf("invalid seconds %v", secs)
	}
	n := int64(0)
	if nanos != nil {
		if n, ok = integral(nanos); !ok {
			return DateInput{}, fmt.Errorf("invalid nanoseconds %v", nanos)
		}
	}
	return FromStoreTimestamp(StoreTimestamp{Seconds: s, Nanoseconds: int32(n)}), nil
}

func integral(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
