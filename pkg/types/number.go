package types

import (
	"regexp"
	"strings"
)

// CodePattern matches a label prefix and digit run inside a candidate
// number, e.g. "abc-123" or "abc 00123".
var CodePattern = regexp.MustCompile(`(?i)([a-z]{2,10})[-_ ]?(\d{2,6})`)

// uncensoredPattern matches all-digit uncensored numbers like "010115-001".
var uncensoredPattern = regexp.MustCompile(`^\d{6}[-_]\d{3,4}$`)

// uncensoredPrefixPattern matches the date-serial prefix, so suffixed
// variants like "010115-001-1pon" still count.
var uncensoredPrefixPattern = regexp.MustCompile(`^(\d{6}[-_]\d{3,4})`)

// IsUncensoredNumber reports whether a number uses the all-digit
// uncensored form (date prefix plus serial).
func IsUncensoredNumber(number string) bool {
	return uncensoredPattern.MatchString(number)
}

// UncensoredPrefix returns the date-serial prefix of an uncensored
// number ("010115-001" from "010115-001-1pon"), or "" for label-digit
// forms.
func UncensoredPrefix(number string) string {
	m := uncensoredPrefixPattern.FindStringSubmatch(number)
	if m == nil {
		return ""
	}
	return m[1]
}

// SplitNumber returns the label prefix and digit run of a number.
// ok is false when the number does not follow the label-digits form.
func SplitNumber(number string) (prefix, digits string, ok bool) {
	m := CodePattern.FindStringSubmatch(number)
	if m == nil {
		return "", "", false
	}
	return strings.ToLower(m[1]), m[2], true
}

// NormalizeNumber uppercases and trims a raw number for use as a
// lookup and dedup key.
func NormalizeNumber(number string) string {
	return strings.ToUpper(strings.TrimSpace(number))
}
