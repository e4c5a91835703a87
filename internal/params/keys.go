package params

import "strings"

// CamelizeLower converts snake_case to lowerCamelCase.
func CamelizeLower(value string) string {
	parts := strings.Split(value, "_")
	var b strings.Builder
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 || b.Len() == 0 {
			b.WriteString(part)
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// Underscore converts lowerCamelCase or CamelCase to snake_case. Keys that
// are already snake_case come back unchanged.
func Underscore(value string) string {
	var b strings.Builder
	for i, r := range value {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && value[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DeepTransformKeys rewrites every map key in value, descending into nested
// maps and slices. Non-collection values are returned unchanged.
func DeepTransformKeys(value any, fn func(string) string) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[fn(k)] = DeepTransformKeys(v, fn)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = DeepTransformKeys(v, fn)
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = DeepTransformKeys(v, fn)
		}
		return out
	default:
		return value
	}
}
