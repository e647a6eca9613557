package util

import (
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`\D+`)

// NormalizeRecipient turns user input into the bare international number the
// gateway expects. Addresses that already carry a domain part (e.g. group
// JIDs like "1203630@g.us") are returned trimmed but otherwise untouched.
func NormalizeRecipient(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "@") {
		return s
	}

	s = nonDigits.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "00")

	return s
}
