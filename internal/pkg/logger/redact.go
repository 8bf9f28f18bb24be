package logger

import (
	"regexp"
	"strings"
)

// RedactEmail masks a prospect address for safe logging.
// "jane.doe@example.com" → "ja***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	// Prospect and account fields carry addresses directly.
	if strings.Contains(key, "email") || strings.Contains(key, "prospect") {
		return RedactEmail(val)
	}
	// Redact any embedded addresses in generic fields.
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
