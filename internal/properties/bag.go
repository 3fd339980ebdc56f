// Package properties provides the typed key/value containers used to build
// outgoing analytics events.
//
// Keys are stored qualified with a type tag ("s:show", "n:position") so that
// downstream consumers can decode values without a separate schema. The tag is
// taken either from an explicit Type passed to SetTyped or from the Schema the
// Bag was created with. Keys with no known type are stored unqualified.
package properties

import (
	"sync"
)

// Type is the tag prepended to a qualified key.
type Type string

const (
	String      Type = "s"
	Number      Type = "n"
	Boolean     Type = "b"
	Date        Type = "d"
	Float       Type = "f"
	StringArray Type = "a:s"
	NumberArray Type = "a:n"
	FloatArray  Type = "a:f"
)

// Valid reports whether t is one of the known tags.
func (t Type) Valid() bool {
	switch t {
	case String, Number, Boolean, Date, Float, StringArray, NumberArray, FloatArray:
		return true
	default:
		return false
	}
}

// Qualify returns the stored form of key for type t.
func Qualify(t Type, key string) string {
	return string(t) + ":" + key
}

// Bag is a concurrency-safe property container. Individual operations are
// serialized; callers that need several fields to change together must provide
// their own exclusion around the calls.
type Bag struct {
	mu     sync.RWMutex
	values map[string]any
	keys   map[string]string // bare key -> qualified key, resolved from the schema
}

// NewBag creates an empty bag whose untyped Set calls are resolved against schema.
func NewBag(schema Schema) *Bag {
	return &Bag{
		values: make(map[string]any),
		keys:   schema.resolve(),
	}
}

// Set stores value under key, qualified by the schema type when key is registered.
func (b *Bag) Set(key string, value any) *Bag {
	stored := key
	if qualified, ok := b.keys[key]; ok {
		stored = qualified
	}

	b.mu.Lock()
	b.values[stored] = value
	b.mu.Unlock()
	return b
}

// SetTyped stores value under key qualified by t, ignoring the schema.
func (b *Bag) SetTyped(key string, value any, t Type) *Bag {
	b.mu.Lock()
	b.values[Qualify(t, key)] = value
	b.mu.Unlock()
	return b
}

// SetAll applies Set to every entry of values.
func (b *Bag) SetAll(values map[string]any) *Bag {
	for k, v := range values {
		b.Set(k, v)
	}
	return b
}

// Get looks up a stored (already qualified) key.
func (b *Bag) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

// CopyAll merges the stored entries of src into b. Entries of src win on collision.
func (b *Bag) CopyAll(src *Bag) *Bag {
	if src == nil {
		return b
	}
	entries := src.Snapshot()

	b.mu.Lock()
	for k, v := range entries {
		b.values[k] = v
	}
	b.mu.Unlock()
	return b
}

// Len returns the number of stored entries.
func (b *Bag) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}

// Snapshot returns a deep copy of the stored entries keyed by qualified key.
func (b *Bag) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue detaches slice and map values so a snapshot cannot observe later writes.
func copyValue(v any) any {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []int:
		return append([]int(nil), val...)
	case []int64:
		return append([]int64(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = copyValue(val[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = copyValue(inner)
		}
		return out
	default:
		return v
	}
}
