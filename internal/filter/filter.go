package filter

import "eventRelay/internal/model"

// Matches evaluates a filter specification against a row. At the top level a
// JSON array means logical OR over its elements, a JSON object is matched
// structurally, and anything else never matches.
func Matches(spec any, row map[string]any) bool {
	switch f := spec.(type) {
	case []any:
		for _, alt := range f {
			if matchValue(alt, row) {
				return true
			}
		}
		return false
	case map[string]any:
		return matchValue(f, row)
	default:
		return false
	}
}

// matchValue applies the recursive structural rule: every key of a filter
// object must be present in the row value and match recursively; every element
// of a filter array must match the row element at the same position (the
// filter may be a prefix of the row array, never longer); scalars compare by
// strict equality.
func matchValue(spec, value any) bool {
	switch f := spec.(type) {
	case map[string]any:
		obj, ok := value.(map[string]any)
		if !ok {
			return false
		}
		for key, fv := range f {
			vv, present := obj[key]
			if !present || !matchValue(fv, vv) {
				return false
			}
		}
		return true
	case []any:
		arr, ok := value.([]any)
		if !ok {
			return false
		}
		for i, fv := range f {
			if i >= len(arr) || !matchValue(fv, arr[i]) {
				return false
			}
		}
		return true
	default:
		return spec == value
	}
}

// Rows returns the subset of rows matching spec, preserving order. A nil spec
// matches every row.
func Rows(rows []model.Row, spec any) []model.Row {
	if spec == nil {
		out := make([]model.Row, len(rows))
		copy(out, rows)
		return out
	}
	var out []model.Row
	for _, row := range rows {
		if Matches(spec, row.Fields) {
			out = append(out, row)
		}
	}
	return out
}
