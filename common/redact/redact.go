// Package redact strips secrets from strings before they reach logs or
// error messages.
//
// Provider API keys must never appear in log lines, error strings returned
// to the CLI, or the printed configuration. Redaction is best-effort: it
// works on string representations and relies on callers passing the right
// secrets. Keep secrets away from log call-sites in the first place.
package redact

import (
	"strings"
)

// Placeholder replaces redacted values.
const Placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(body, apiKey)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, Placeholder)
	}
	return s
}

// Mask hides a secret entirely while still showing whether it is set:
// empty stays empty, anything else becomes [REDACTED].
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	return Placeholder
}
