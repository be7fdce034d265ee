package masking

import "strings"

const maskToken = "****"

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return maskToken
	}
	return trimmed[:1] + maskToken + trimmed[at:]
}

// MaskJSON returns a copy of input with address-bearing values masked.
// Keys containing "email" are treated as addresses; everything else passes through.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if strings.Contains(strings.ToLower(trimmedKey), "email") {
			masked[trimmedKey] = maskAddresses(value)
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			masked[trimmedKey] = MaskJSON(nested)
			continue
		}
		masked[trimmedKey] = value
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskAddresses(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskEmail(cast)
	case []string:
		out := make([]string, 0, len(cast))
		for _, item := range cast {
			out = append(out, MaskEmail(item))
		}
		return out
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskAddresses(item))
		}
		return out
	default:
		return value
	}
}
