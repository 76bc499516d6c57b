package http

import (
	"strings"
	"unicode"
)

// sanitizeInput trims whitespace and removes control characters.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
