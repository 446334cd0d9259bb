package permissions

// MergePolicies combines policies so the result grants everything any input
// grants. Per category, true beats a map, a map beats false, and nil (or an
// absent key) contributes nothing. Maps are merged key by key with the same
// rules.
//
// The result is independent of input order.
func MergePolicies(policies []Policy) Policy {
	merged := Policy{}
	for _, p := range policies {
		for category := range p {
			if _, done := merged[category]; done {
				continue
			}
			values := make([]any, 0, len(policies))
			for _, other := range policies {
				values = append(values, other[category])
			}
			merged[category] = mergeValues(values)
		}
	}
	return merged
}

func mergeValues(sources []any) any {
	var result any
	for _, src := range sources {
		switch v := src.(type) {
		case nil:
			continue
		case bool:
			if v {
				return true
			}
			if result == nil {
				result = false
			}
		default:
			m, ok := asMap(src)
			if !ok {
				continue
			}
			out, isMap := result.(map[string]any)
			if !isMap {
				out = make(map[string]any, len(m))
				result = out
			}
			for key := range m {
				if _, done := out[key]; done {
					continue
				}
				out[key] = mergeValues(childValues(sources, key))
			}
		}
	}
	return result
}

// childValues collects key from every map-valued source.
func childValues(sources []any, key string) []any {
	values := make([]any, 0, len(sources))
	for _, src := range sources {
		if m, ok := asMap(src); ok {
			values = append(values, m[key])
		}
	}
	return values
}
