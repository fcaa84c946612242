package policy

import (
	"regexp"
	"strings"
)

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Cards run before phones so long digit runs are not classified as phones.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card numbers and phone numbers in free text.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// MaskDigits replaces every digit except the last keep with '*'. Separators
// and a leading '+' are preserved.
func MaskDigits(input string, keep int) (masked string, changed bool) {
	total := 0
	for _, r := range input {
		if r >= '0' && r <= '9' {
			total++
		}
	}
	if total == 0 {
		return input, false
	}
	var b strings.Builder
	b.Grow(len(input))
	seen := 0
	for _, r := range input {
		if r >= '0' && r <= '9' {
			seen++
			if seen <= total-keep {
				b.WriteByte('*')
				changed = true
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String(), changed
}
