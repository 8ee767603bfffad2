// Package masking redacts payment instrument numbers before they are stored
// in the activity log or printed on a statement.
package masking

import "strings"

const (
	maskToken   = "****"
	visibleTail = 4
)

// Keys compared lower-cased.
var sensitiveKeys = map[string]bool{
	"reference_number": true,
	"account_number":   true,
	"cheque_number":    true,
	"utr":              true,
}

// MaskSecret keeps a scheme prefix ending in '_' (for example "NEFT_") and
// the last four characters. Values of four characters or less are fully masked.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	var scheme string
	if i := strings.LastIndexByte(value, '_'); i >= 0 && i < len(value)-1 {
		scheme, value = value[:i+1], value[i+1:]
	}
	if len(value) <= visibleTail {
		return scheme + maskToken
	}
	return scheme + maskToken + value[len(value)-visibleTail:]
}

// MaskJSON copies input, masking string values under sensitive keys at any
// depth. Blank keys are dropped; an empty result is nil.
func MaskJSON(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		if key = strings.TrimSpace(key); key != "" {
			out[key] = mask(sensitiveKeys[strings.ToLower(key)], value)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mask(sensitive bool, value any) any {
	switch v := value.(type) {
	case string:
		if sensitive {
			return MaskSecret(v)
		}
		return v
	case map[string]any:
		return MaskJSON(v)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = mask(sensitive, v[i])
		}
		return out
	default:
		return value
	}
}
