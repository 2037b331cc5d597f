package webclient

import (
	"regexp"
	"strings"
)

// urlPrefixRe captures a clean http(s) URL prefix, cutting off quote and
// bracket pollution such as `https://x.com?a=1">https://x.com?a=1`.
var urlPrefixRe = regexp.MustCompile(`^(https?://[^\s"'<>]+)`)

// SanitizeURL trims a raw URL and cuts it at the first character that
// cannot belong to a URL. Returns the cleaned URL and whether anything
// was removed.
func SanitizeURL(raw string) (string, bool) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return cleaned, false
	}
	m := urlPrefixRe.FindStringSubmatch(cleaned)
	if m == nil {
		return cleaned, false
	}
	return m[1], m[1] != cleaned
}
