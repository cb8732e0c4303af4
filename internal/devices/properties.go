package devices

import "sync"

// Well-known property names.
const (
	PropertyType         = "Type"
	PropertyName         = "Name"
	PropertyIPConfigs    = "IPConfigs"
	PropertyAllowRoaming = "AllowRoaming"
	PropertyCarrier      = "Carrier"
)

// PropertyStore holds one device's properties. Values are restricted to
// bool, string, int64 (plain ints are widened) and []string. A name
// maps to at most one value; last write wins; Set never coerces between
// kinds.
type PropertyStore struct {
	mu    sync.RWMutex
	props map[string]any
}

func NewPropertyStore() *PropertyStore {
	return &PropertyStore{props: make(map[string]any)}
}

// propertyKind classifies a value. Empty string means unsupported.
func propertyKind(v any) string {
	switch v.(type) {
	case bool:
		return "bool"
	case string:
		return "string"
	case int, int64:
		return "int"
	case []string:
		return "string list"
	}
	return ""
}

// normalizeValue widens ints and copies slices so the store never
// shares mutable state with the caller.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case []string:
		cp := make([]string, len(t))
		copy(cp, t)
		return cp
	}
	return v
}

func copyValue(v any) any {
	if l, ok := v.([]string); ok {
		cp := make([]string, len(l))
		copy(cp, l)
		return cp
	}
	return v
}

// Set records value under name. It fails with TypeMismatch when value
// is of an unsupported type or its kind differs from the kind already
// recorded for name.
func (ps *PropertyStore) Set(name string, value any) error {
	kind := propertyKind(value)
	if kind == "" {
		return newOpError(ErrorTypeMismatch, "property %q: unsupported value type %T", name, value)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if existing, ok := ps.props[name]; ok {
		if have := propertyKind(existing); have != kind {
			return newOpError(ErrorTypeMismatch, "property %q: recorded type %s, got %s", name, have, kind)
		}
	}
	ps.props[name] = normalizeValue(value)
	return nil
}

// Get returns the value recorded under name.
func (ps *PropertyStore) Get(name string) (any, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	v, ok := ps.props[name]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// GetAll returns a snapshot of all properties. Mutating the returned
// map or its slice values never affects the store.
func (ps *PropertyStore) GetAll() map[string]any {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	snapshot := make(map[string]any, len(ps.props))
	for k, v := range ps.props {
		snapshot[k] = copyValue(v)
	}
	return snapshot
}

// Len reports the number of recorded properties.
func (ps *PropertyStore) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.props)
}
