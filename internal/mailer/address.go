package mailer

import (
	"encoding/json"
	"regexp"
	"strings"
)

var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidAddress reports whether value looks like a deliverable address.
func IsValidAddress(value string) bool {
	return addressPattern.MatchString(strings.TrimSpace(value))
}

// NormalizeAddress lower-cases and trims an address.
func NormalizeAddress(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// NormalizeAddresses normalizes every entry and drops blanks.
func NormalizeAddresses(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if normalized := NormalizeAddress(value); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}

// ParseAddressList accepts a JSON array, a JSON-encoded string, or a comma-separated list.
func ParseAddressList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return trimAll(list)
	}
	var single string
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		if strings.TrimSpace(single) == "" {
			return []string{}
		}
		return ParseAddressList(single)
	}

	return trimAll(strings.Split(raw, ","))
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// AddressList decodes recipient fields sent either as an array or as a string.
type AddressList []string

func (l *AddressList) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = trimAll(list)
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = ParseAddressList(raw)
	return nil
}
