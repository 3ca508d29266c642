package task

import "fmt"

// Validate checks whether store content is structurally an array of task
// records: required fields present with the right primitive types. Business
// rules (category allow-list membership) are deliberately not checked.
func Validate(data []byte, format Format) (bool, []string) {
	raw, err := DecodeAny(data, format)
	if err != nil {
		return false, []string{err.Error()}
	}
	return ValidateValue(raw)
}

// ValidateValue applies the structural check to an already-parsed array.
func ValidateValue(raw []any) (bool, []string) {
	var reasons []string
	for i, el := range raw {
		m, ok := asMap(el)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("item %d: not an object", i))
			continue
		}
		desc, ok := m["description"].(string)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("item %d: description missing or not a string", i))
		} else if desc == "" {
			reasons = append(reasons, fmt.Sprintf("item %d: description is empty", i))
		}
		if v, present := m["category"]; present {
			if _, ok := v.(string); !ok {
				reasons = append(reasons, fmt.Sprintf("item %d: category is not a string", i))
			}
		}
		if v, present := m["branch"]; present && v != nil {
			if _, ok := v.(string); !ok {
				reasons = append(reasons, fmt.Sprintf("item %d: branch is not a string", i))
			}
		}
		if v, present := m["passes"]; present && v != nil {
			if _, ok := v.(bool); !ok {
				reasons = append(reasons, fmt.Sprintf("item %d: passes is not a boolean", i))
			}
		}
		if v, present := m["steps"]; present && v != nil {
			steps, ok := v.([]any)
			if !ok {
				reasons = append(reasons, fmt.Sprintf("item %d: steps is not an array", i))
				continue
			}
			for j, step := range steps {
				if _, ok := step.(string); !ok {
					reasons = append(reasons, fmt.Sprintf("item %d: step %d is not a string", i, j))
				}
			}
		}
	}
	return len(reasons) == 0, reasons
}

// asMap normalizes the two map shapes the decoders produce. yaml.v3 yields
// map[string]any for string-keyed mappings, same as encoding/json, but older
// YAML content can still surface map[any]any keys.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
