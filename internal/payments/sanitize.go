package payments

import (
	"regexp"
	"strings"
)

// Provider identifiers are embedded in SQL lookups, log lines and
// synthesized notes, so anything outside this alphabet is discarded rather
// than escaped.
var safeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// SanitizeID returns the trimmed identifier when it contains only ASCII
// letters, digits and underscores, and "" otherwise. Never mutates the
// value beyond trimming: an identifier is either safe as a whole or unusable.
func SanitizeID(value string) string {
	trimmed := strings.TrimSpace(value)
	if !safeIDPattern.MatchString(trimmed) {
		return ""
	}
	return trimmed
}

// FirstSafeID returns the first candidate that sanitizes to a non-empty
// identifier, or "" when none do.
func FirstSafeID(candidates ...string) string {
	for _, candidate := range candidates {
		if safe := SanitizeID(candidate); safe != "" {
			return safe
		}
	}
	return ""
}
