// Package params maps caller-supplied parameter sets onto a declared canonical
// schema, resolving alternate field names through an alias table.
package params

import (
	"reflect"
	"sync"
)

type Field struct {
	Name        string
	Default     any
	Description string
}

// Alias maps an alternate field name (From) onto a canonical field (To).
type Alias struct {
	From string
	To   string
}

// Normalizer owns its schema, aliases and memoized filter result. Nothing is
// shared between instances, including ones built from the same arguments.
type Normalizer struct {
	mu      sync.Mutex
	schema  []Field
	index   map[string]int
	aliases []Alias
	memo    *Resolved
}

func New(schema []Field, aliases []Alias) *Normalizer {
	n := &Normalizer{index: map[string]int{}}
	n.merge(schema, aliases)
	return n
}

// Null returns a normalizer with an empty schema. Only alias targets can
// appear in its results.
func Null(aliases ...Alias) *Normalizer {
	return New(nil, aliases)
}

// Extend merges additional fields and aliases in place and drops any memoized
// result. A field that is already declared keeps its position but takes the
// new metadata.
func (n *Normalizer) Extend(schema []Field, aliases []Alias) *Normalizer {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.merge(schema, aliases)
	n.memo = nil
	return n
}

func (n *Normalizer) merge(schema []Field, aliases []Alias) {
	for _, field := range schema {
		if field.Name == "" {
			continue
		}
		if i, ok := n.index[field.Name]; ok {
			n.schema[i] = field
			continue
		}
		n.index[field.Name] = len(n.schema)
		n.schema = append(n.schema, field)
	}
	for _, alias := range aliases {
		if alias.From == "" || alias.To == "" {
			continue
		}
		replaced := false
		for i := range n.aliases {
			if n.aliases[i].From == alias.From {
				n.aliases[i] = alias
				replaced = true
				break
			}
		}
		if !replaced {
			n.aliases = append(n.aliases, alias)
		}
	}
}

// Clone returns an independent copy without the memoized result.
func (n *Normalizer) Clone() *Normalizer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return New(n.schema, n.aliases)
}

// Reset drops the memoized filter result.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	n.memo = nil
	n.mu.Unlock()
}

func (n *Normalizer) Schema() []Field {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Field, len(n.schema))
	copy(out, n.schema)
	return out
}

func (n *Normalizer) Aliases() []Alias {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Alias, len(n.aliases))
	copy(out, n.aliases)
	return out
}

func (n *Normalizer) Has(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.index[name]
	return ok
}

// Defaults returns the declared default of every field that has one, keyed by
// canonical name.
func (n *Normalizer) Defaults() map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]any, len(n.schema))
	for _, field := range n.schema {
		if field.Default != nil {
			out[field.Name] = field.Default
		}
	}
	return out
}

// Resolve filters raw down to the declared schema and then fills canonical
// fields from their aliases. The schema filter runs once per instance and is
// memoized until Extend or Reset; alias resolution runs on every call and
// never overwrites a canonical value that is set and non-empty.
func (n *Normalizer) Resolve(raw map[string]any) Resolved {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.memo == nil {
		filtered := Resolved{values: map[string]any{}}
		for _, field := range n.schema {
			if value, ok := raw[field.Name]; ok {
				filtered.set(field.Name, value)
			}
		}
		n.memo = &filtered
	}

	out := n.memo.clone()
	for _, alias := range n.aliases {
		if current, ok := out.values[alias.To]; ok && !isEmpty(current) {
			continue
		}
		value, ok := raw[alias.From]
		if !ok || isEmpty(value) {
			continue
		}
		out.set(alias.To, value)
	}
	return out
}

// isEmpty reports whether a value counts as unset for alias resolution: nil,
// false, empty strings and empty collections. Numeric zero is a real value.
func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	switch typed := value.(type) {
	case bool:
		return !typed
	case string:
		return typed == ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
