package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Field is one entry of a Manifest.
type Field struct {
	Key   string `json:"title"`
	Value any    `json:"value"`
}

// Manifest is an ordered set of report fields attached to a notification.
// It is never persisted.
type Manifest []Field

// NewManifest builds a manifest from alternating key/value arguments.
func NewManifest(kv ...any) Manifest {
	m := make(Manifest, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m = m.set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return m
}

// With returns a copy of m with key set to value. An existing key keeps its position.
func (m Manifest) With(key string, value any) Manifest {
	out := append(Manifest(nil), m...)
	return out.set(key, value)
}

// Merge returns a copy of m overlaid with the fields of other.
func (m Manifest) Merge(other Manifest) Manifest {
	out := append(Manifest(nil), m...)
	for _, f := range other {
		out = out.set(f.Key, f.Value)
	}
	return out
}

func (m Manifest) set(key string, value any) Manifest {
	for i := range m {
		if m[i].Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, Field{Key: key, Value: value})
}

// Get returns the value for key.
func (m Manifest) Get(key string) (any, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the field keys in order.
func (m Manifest) Keys() []string {
	keys := make([]string, len(m))
	for i, f := range m {
		keys[i] = f.Key
	}
	return keys
}

// FormatValue renders a field value for display.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case []string:
		return strings.Join(val, ", ")
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// MarshalJSON renders the manifest as an ordered list of title/value pairs.
func (m Manifest) MarshalJSON() ([]byte, error) {
	type pair struct {
		Title string `json:"title"`
		Value string `json:"value"`
	}
	out := make([]pair, len(m))
	for i, f := range m {
		out[i] = pair{Title: f.Key, Value: FormatValue(f.Value)}
	}
	return json.Marshal(out)
}

// String renders the manifest one field per line.
func (m Manifest) String() string {
	var b strings.Builder
	for _, f := range m {
		fmt.Fprintf(&b, "%s: %s\n", f.Key, FormatValue(f.Value))
	}
	return b.String()
}
