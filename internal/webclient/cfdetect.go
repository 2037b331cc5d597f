package webclient

import (
	"net/http"
	"strings"
)

// challengeSniffLen bounds how much body is inspected for challenge
// markers; Cloudflare interstitials carry them near the top.
const challengeSniffLen = 8192

var challengeMarkers = []string{
	"just a moment",
	"cf-chl",
	"cdn-cgi/challenge-platform",
	"attention required",
	"enable javascript and cookies",
	"checking your browser before accessing",
}

// Markers decisive on their own, without corroborating headers.
var strongChallengeMarkers = []string{
	"cf-chl",
	"cdn-cgi/challenge-platform",
}

// isCFChallenge reports whether a response is a Cloudflare challenge
// interstitial rather than origin content.
//
// Rule 1: challenge status (403/429/503) plus a cloudflare Server header
// or a cf-ray header, plus any challenge marker in the body.
// Rule 2: a strong marker alone is decisive regardless of status, for
// proxies that rewrite headers.
func isCFChallenge(statusCode int, header http.Header, body []byte) bool {
	contentType := strings.ToLower(header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "text/html") {
		return false
	}

	sniff := body
	if len(sniff) > challengeSniffLen {
		sniff = sniff[:challengeSniffLen]
	}
	bodyText := strings.ToLower(string(sniff))

	hasMarker := false
	for _, marker := range challengeMarkers {
		if strings.Contains(bodyText, marker) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return false
	}

	server := strings.ToLower(header.Get("Server"))
	cfRay := header.Get("Cf-Ray")
	statusMatch := statusCode == http.StatusForbidden ||
		statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable

	if statusMatch && (strings.Contains(server, "cloudflare") || cfRay != "") {
		return true
	}
	for _, marker := range strongChallengeMarkers {
		if strings.Contains(bodyText, marker) {
			return true
		}
	}
	return false
}
