// Package merge implements the fill-only reconciliation of stored market
// configuration against freshly loaded fixtures. The merge is monotone: a
// populated scalar in the stored document is never overwritten, so repeated
// fills can only add information.
package merge

// identityKeys is the ordered list of candidate keys used to reconcile arrays
// of objects. The list is a fixed policy, not a plugin point.
var identityKeys = []string{"id", "product_id", "category_id", "vendor_id", "service_id"}

// Fill merges incoming into current and reports whether the result differs
// from current. Neither argument is mutated; the returned value shares
// untouched subtrees with current.
//
// Rules, in order:
//   - current nil or empty string: deep copy of incoming, changed.
//   - both arrays: reconcile by a detected identity key (see detectIdentityKey).
//   - both objects: recurse per key, deep-copying keys absent from current.
//   - anything else (populated scalar, type mismatch): keep current.
func Fill(current, incoming any) (any, bool) {
	if isEmpty(current) {
		return deepCopy(incoming), true
	}

	if cur, ok := current.([]any); ok {
		if inc, ok := incoming.([]any); ok {
			return fillArray(cur, inc)
		}
	}

	if cur, ok := current.(map[string]any); ok {
		if inc, ok := incoming.(map[string]any); ok {
			return fillObject(cur, inc)
		}
	}

	return current, false
}

func fillArray(current, incoming []any) (any, bool) {
	if len(current) == 0 && len(incoming) > 0 {
		return deepCopy(incoming), true
	}

	key := detectIdentityKey(current)
	if key == "" {
		key = detectIdentityKey(incoming)
	}
	if key == "" {
		return current, false
	}

	result := make([]any, len(current))
	index := make(map[string]int, len(current))
	for i, el := range current {
		result[i] = el
		if obj, ok := el.(map[string]any); ok {
			if id, ok := obj[key].(string); ok {
				index[id] = i
			}
		}
	}

	changed := false
	for _, el := range incoming {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		id, ok := obj[key].(string)
		if !ok {
			continue
		}
		if pos, exists := index[id]; exists {
			merged, ch := Fill(result[pos], el)
			result[pos] = merged
			changed = changed || ch
			continue
		}
		index[id] = len(result)
		result = append(result, deepCopy(el))
		changed = true
	}

	if !changed {
		return current, false
	}
	return result, true
}

func fillObject(current, incoming map[string]any) (any, bool) {
	result := make(map[string]any, len(current))
	for k, v := range current {
		result[k] = v
	}

	changed := false
	for k, iv := range incoming {
		cv, present := current[k]
		if !present {
			result[k] = deepCopy(iv)
			changed = true
			continue
		}
		merged, ch := Fill(cv, iv)
		result[k] = merged
		changed = changed || ch
	}

	if !changed {
		return current, false
	}
	return result, true
}

// detectIdentityKey returns the first candidate key that qualifies for the
// array: at least one element exposes it as a string and no element exposes
// it as a non-string. Arrays without object elements have no identity key.
func detectIdentityKey(arr []any) string {
	for _, key := range identityKeys {
		seen := false
		qualified := true
		for _, el := range arr {
			obj, ok := el.(map[string]any)
			if !ok {
				continue
			}
			v, present := obj[key]
			if !present {
				continue
			}
			if _, isString := v.(string); !isString {
				qualified = false
				break
			}
			seen = true
		}
		if seen && qualified {
			return key
		}
	}
	return ""
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
