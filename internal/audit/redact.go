package audit

import "strings"

// sensitiveFieldMarkers mirrors the key-substring heuristic the pack's
// safety guardrails use for redacting metadata fields before they're
// persisted or streamed to an operator.
var sensitiveFieldMarkers = []string{"secret", "token", "password", "credential", "private_key", "api_key"}

// Redact returns a copy of fields with values at sensitive-looking keys
// replaced, so audit metadata never leaks credential material even when a
// handler's raw parameters are passed through unfiltered.
func Redact(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return fields
	}
	out := make(map[string]string, len(fields))
	for key, value := range fields {
		if isSensitiveKey(strings.ToLower(strings.TrimSpace(key))) {
			out[key] = "<redacted>"
		} else {
			out[key] = value
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	if key == "" {
		return false
	}
	for _, marker := range sensitiveFieldMarkers {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}
