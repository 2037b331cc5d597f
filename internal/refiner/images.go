package refiner

import (
	"context"
	"fmt"
	"net/http"
	neturl "net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/webclient"
)

// UpgradeAWSImage swaps a pics.dmm.co.jp image for its uncompressed
// awsimgsrc mirror when the mirror actually serves it. numberForms are
// the catalog digit variants to try as direct mirror paths.
func (r *Refiner) UpgradeAWSImage(ctx context.Context, imageURL string, numberForms ...string) string {
	if !strings.Contains(imageURL, "pics.dmm.co.jp") {
		return imageURL
	}

	candidates := []string{
		strings.Replace(
			strings.Replace(imageURL, "pics.dmm.co.jp", "awsimgsrc.dmm.co.jp/pics_dig", 1),
			"/adult/", "/", 1),
	}
	for _, form := range numberForms {
		if form == "" {
			continue
		}
		candidates = append(candidates,
			fmt.Sprintf("https://awsimgsrc.dmm.co.jp/pics_dig/digital/video/%s/%spl.jpg", form, form))
	}

	for _, candidate := range candidates {
		if _, ok := r.CheckURL(ctx, candidate); ok {
			r.logger.Debug("Adopted AWS mirror image",
				zap.String("original", imageURL),
				zap.String("mirror", candidate))
			return candidate
		}
	}
	return imageURL
}

// googleImageEntry is one [url, height, width] triple from a Google
// image-search result page.
var googleImageRe = regexp.MustCompile(`\["(https?://[^"]+?)",(\d+),(\d+)\]`)

// Hosts whose full-size scans are consistently clean.
var trustedImageHosts = []string{
	"dmm.co.jp",
	"dmm.com",
	"javbus.com",
	"mgstage.com",
	"getchu.com",
	"sod.co.jp",
}

type imageCandidate struct {
	url     string
	width   int
	height  int
	trusted bool
}

// FindLargerPoster reverse-searches Google Images for a higher
// resolution portrait scan of the poster. Returns "" when nothing
// beats the current one.
func (r *Refiner) FindLargerPoster(ctx context.Context, keyword string, minHeight int) string {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return ""
	}

	searchURL := "https://www.google.com/search?tbm=isch&q=" + neturl.QueryEscape(keyword)
	resp, err := r.client.Request(ctx, http.MethodGet, searchURL, &webclient.RequestOptions{DisableBypass: true})
	if err != nil || resp.StatusCode != http.StatusOK {
		return ""
	}

	var candidates []imageCandidate
	for _, m := range googleImageRe.FindAllStringSubmatch(string(resp.Body), -1) {
		height, _ := strconv.Atoi(m[2])
		width, _ := strconv.Atoi(m[3])
		if height < minHeight {
			continue
		}
		// Posters are portrait; a landscape-but-not-wide image is a
		// screenshot, not a cover scan.
		if width > height && float64(width)/float64(height) < 1.4 {
			continue
		}
		candidates = append(candidates, imageCandidate{
			url:     m[1],
			width:   width,
			height:  height,
			trusted: isTrustedImageHost(m[1]),
		})
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].trusted != candidates[j].trusted {
			return candidates[i].trusted
		}
		return candidates[i].width*candidates[i].height > candidates[j].width*candidates[j].height
	})

	for _, candidate := range candidates {
		if finalURL, ok := r.CheckURL(ctx, candidate.url); ok {
			return finalURL
		}
	}
	return ""
}

func isTrustedImageHost(rawURL string) bool {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, trusted := range trustedImageHosts {
		if host == trusted || strings.HasSuffix(host, "."+trusted) {
			return true
		}
	}
	return false
}
