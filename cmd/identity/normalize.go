package identity

import "strings"

// NormalizeUsername performs case-insensitive canonicalization.
// Only trim + lower-case for now; stricter rules can land behind a
// versioned policy later.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
