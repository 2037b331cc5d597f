package refiner

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/webclient"
)

// minImageBytes rejects tracking pixels and placeholder thumbnails.
const minImageBytes = 8 << 10

// URL substrings that mark a "no image available" placeholder even when
// the server answers 200.
var badURLKeys = []string{
	"now_printing",
	"nowprinting",
	"noimage",
	"nopic",
	"media_violation",
	"login",
}

// Refiner probes and upgrades media URLs over the shared client.
type Refiner struct {
	client *webclient.Client
	logger *zap.Logger
}

func New(client *webclient.Client, logger *zap.Logger) *Refiner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refiner{client: client, logger: logger}
}

// CheckURL probes an image URL: HEAD first, ranged GET when HEAD is
// refused. Returns the terminal URL and whether it is usable.
func (r *Refiner) CheckURL(ctx context.Context, rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", false
	}

	probeURL := rawURL
	if strings.Contains(probeURL, "awsimgsrc.dmm.co.jp") {
		// The AWS mirror 404s bare paths; a resize query makes the probe
		// answer for any stored image.
		probeURL = appendQuery(probeURL, "w=120&h=90")
	}

	resp, err := r.client.Request(ctx, http.MethodHead, probeURL, &webclient.RequestOptions{DisableBypass: true})
	if err != nil || resp.StatusCode != http.StatusOK {
		resp, err = r.client.Request(ctx, http.MethodGet, probeURL, &webclient.RequestOptions{
			Headers:       map[string]string{"Range": "bytes=0-0"},
			DisableBypass: true,
		})
		if err != nil {
			return "", false
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			return "", false
		}
	}

	finalURL := resp.FinalURL
	if finalURL == "" {
		finalURL = rawURL
	}
	lowered := strings.ToLower(finalURL)
	for _, key := range badURLKeys {
		if strings.Contains(lowered, key) {
			return "", false
		}
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		if size := contentSize(resp); size > 0 && size < minImageBytes {
			return "", false
		}
	}

	// Hand back the un-probed form; the resize query was only for the check.
	if probeURL != rawURL && strings.Contains(finalURL, "w=120&h=90") {
		finalURL = rawURL
	}
	return finalURL, true
}

// ContentLength returns the byte size of a URL, trying HEAD first and
// falling back to GET when the server rejects HEAD.
func (r *Refiner) ContentLength(ctx context.Context, rawURL string) int64 {
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		resp, err := r.client.Request(ctx, method, rawURL, &webclient.RequestOptions{DisableBypass: true})
		if err != nil {
			continue
		}
		if size := contentSize(resp); size > 0 {
			return size
		}
		if method == http.MethodGet {
			return int64(len(resp.Body))
		}
	}
	return 0
}

// ValidateTrailer confirms a trailer URL serves video bytes. HEAD, then
// a one-byte ranged GET; 200/206 with a non-HTML content type passes.
// Returns the terminal URL, or "" when every check fails.
func (r *Refiner) ValidateTrailer(ctx context.Context, trailerURL string, cookies map[string]string) string {
	trailerURL = strings.TrimSpace(trailerURL)
	if trailerURL == "" || IsHLSPlaylist(trailerURL) {
		return ""
	}

	checks := []struct {
		method  string
		headers map[string]string
	}{
		{http.MethodHead, nil},
		{http.MethodGet, map[string]string{"Range": "bytes=0-0"}},
	}
	for _, check := range checks {
		resp, err := r.client.Request(ctx, check.method, trailerURL, &webclient.RequestOptions{
			Headers:       check.headers,
			Cookies:       cookies,
			DisableBypass: true,
		})
		if err != nil {
			continue
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			continue
		}
		contentType := strings.ToLower(resp.Header.Get("Content-Type"))
		if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xml") {
			continue
		}
		if contentType != "" && !strings.Contains(contentType, "video") && !strings.Contains(contentType, "octet-stream") {
			continue
		}
		if resp.FinalURL != "" {
			return resp.FinalURL
		}
		return trailerURL
	}
	return ""
}

// BestValidTrailer validates each candidate and keeps the highest
// ranked one that actually serves bytes.
func (r *Refiner) BestValidTrailer(ctx context.Context, candidates []string, cookies map[string]string) string {
	best := ""
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		validated := r.ValidateTrailer(ctx, candidate, cookies)
		if validated == "" {
			continue
		}
		best = PickBetterTrailer(best, validated)
	}
	return best
}

func appendQuery(rawURL, query string) string {
	if strings.Contains(rawURL, "?") {
		return rawURL + "&" + query
	}
	return rawURL + "?" + query
}

func contentSize(resp *webclient.Response) int64 {
	// A ranged response reports the full size after the slash.
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if size, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
				return size
			}
		}
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return size
		}
	}
	return 0
}
