package document

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is a schemaless document body
type Record map[string]any

// Clone returns a deep copy of maps and slices. Scalar values are shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = map[string]any(Record(e).Clone())
		}
		return out
	}
	return v
}

// Merge returns a copy of r with the top-level keys of patch applied
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

type serverTimestamp struct{}

// ServerTimestamp asks the store to stamp the field with its own clock at
// write time.
var ServerTimestamp = serverTimestamp{}

// String keeps the sentinel readable in logs
func (serverTimestamp) String() string { return "ServerTimestamp" }

// MarshalJSON keeps unresolved sentinels readable in diagnostics
func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"__server_timestamp__"`), nil
}

// ResolveServerTimestamps replaces top-level ServerTimestamp sentinels with now
func ResolveServerTimestamps(r Record, now time.Time) Record {
	for k, v := range r {
		if _, ok := v.(serverTimestamp); ok {
			r[k] = now
		}
	}
	return r
}

// Snapshot is a document as read from the store
type Snapshot struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Data       Record    `json:"data"`
	CreateTime time.Time `json:"create_time"`
	UpdateTime time.Time `json:"update_time"`
}

// Field returns a top-level value, or a nested one for dotted names
func (s Snapshot) Field(name string) (any, bool) {
	return lookupField(s.Data, name)
}

// DecodeAs converts the snapshot into a typed value through its JSON form.
// The document id is exposed to T as the "id" field.
func DecodeAs[T any](s Snapshot) (T, error) {
	var out T
	body := s.Data.Clone()
	if body == nil {
		body = Record{}
	}
	body["id"] = s.ID
	raw, err := json.Marshal(body)
	if err != nil {
		return out, fmt.Errorf("encode document %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode document %s: %w", s.Path, err)
	}
	return out, nil
}
