package common

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Redacted is the placeholder substituted for sensitive values.
const Redacted = "***REDACTED***"

// sensitiveKeys matches map keys whose values must never reach a log line
// or error payload.
var sensitiveKeys = regexp.MustCompile(`(?i)(token|secret|api[_-]?key|password|credential|authorization)`)

// RedactPayload returns a copy of payload with sensitive values replaced.
// Nested maps are redacted recursively. The input is never mutated.
func RedactPayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	redacted := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		switch {
		case sensitiveKeys.MatchString(key):
			redacted[key] = Redacted
		default:
			if nested, ok := value.(map[string]interface{}); ok {
				redacted[key] = RedactPayload(nested)
			} else {
				redacted[key] = value
			}
		}
	}
	return redacted
}

// RedactValue removes every occurrence of the given secrets from s.
// Empty secrets are skipped so a missing credential can't blank the string.
func RedactValue(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, Redacted)
	}
	return s
}

// Truncate bounds s to max bytes, appending a marker when cut. The cut
// backs up to a rune boundary so a multi-byte character is never split.
// Error payloads and body excerpts pass through this before leaving the
// process.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
