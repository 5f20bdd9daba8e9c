package playbook

import "regexp"

var variableRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// SubstituteString replaces ${NAME} references found in vars. Unknown names
// stay as their literal text so downstream tooling can spot them.
func SubstituteString(text string, vars map[string]string) string {
	return variableRe.ReplaceAllStringFunc(text, func(match string) string {
		name := variableRe.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// SubstituteValue walks mappings and sequences recursively, substituting in
// every string leaf. Non-string leaves pass through unchanged.
func SubstituteValue(value any, vars map[string]string) any {
	switch typed := value.(type) {
	case string:
		return SubstituteString(typed, vars)
	case map[string]any:
		result := make(map[string]any, len(typed))
		for key, item := range typed {
			result[key] = SubstituteValue(item, vars)
		}
		return result
	case map[string]string:
		result := make(map[string]string, len(typed))
		for key, item := range typed {
			result[key] = SubstituteString(item, vars)
		}
		return result
	case []any:
		result := make([]any, len(typed))
		for i, item := range typed {
			result[i] = SubstituteValue(item, vars)
		}
		return result
	default:
		return value
	}
}
