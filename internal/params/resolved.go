package params

import (
	"fmt"
	"reflect"
	"sort"
)

// Resolved is an ordered canonical parameter set produced by Normalizer.Resolve.
type Resolved struct {
	keys   []string
	values map[string]any
}

func (r *Resolved) set(key string, value any) {
	if r.values == nil {
		r.values = map[string]any{}
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r Resolved) clone() Resolved {
	out := Resolved{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]any, len(r.values)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

func (r Resolved) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r Resolved) Get(key string) (any, bool) {
	value, ok := r.values[key]
	return value, ok
}

func (r Resolved) Len() int {
	return len(r.keys)
}

// Map returns a copy of the canonical mapping.
func (r Resolved) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Each visits entries in resolution order.
func (r Resolved) Each(fn func(key string, value any)) {
	for _, key := range r.keys {
		fn(key, r.values[key])
	}
}

// Equal compares canonical mappings; resolution order is ignored.
func (r Resolved) Equal(other Resolved) bool {
	if len(r.values) != len(other.values) {
		return false
	}
	for k, v := range r.values {
		ov, ok := other.values[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// Compare orders two results by their canonical mappings: fewer entries sort
// first, then entries are compared by sorted key and formatted value.
func (r Resolved) Compare(other Resolved) int {
	if r.Equal(other) {
		return 0
	}
	if len(r.values) != len(other.values) {
		if len(r.values) < len(other.values) {
			return -1
		}
		return 1
	}
	left := r.sortedKeys()
	right := other.sortedKeys()
	for i := range left {
		if left[i] != right[i] {
			if left[i] < right[i] {
				return -1
			}
			return 1
		}
		lv := fmt.Sprint(r.values[left[i]])
		rv := fmt.Sprint(other.values[right[i]])
		if lv != rv {
			if lv < rv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (r Resolved) sortedKeys() []string {
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
