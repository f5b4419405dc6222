package vector

import (
	"bytes"
	"encoding/json"
)

// contains reports whether have contains want the way jsonb @> does: objects
// match key by key, arrays match when every wanted element is contained in
// some element, and scalars compare by JSON value.
func contains(have, want any) bool {
	switch w := want.(type) {
	case map[string]any:
		h, ok := have.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			hv, ok := h[k]
			if !ok || !contains(hv, wv) {
				return false
			}
		}
		return true
	case []any:
		h, ok := have.([]any)
		if !ok {
			return false
		}
		for _, wv := range w {
			found := false
			for _, hv := range h {
				if contains(hv, wv) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return scalarEqual(have, want)
	}
}

func scalarEqual(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// matchesFilter reports whether meta is a superset of filter.
func matchesFilter(meta, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	return contains(meta, filter)
}
