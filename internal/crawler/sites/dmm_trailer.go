package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	neturl "net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/crawler"
)

// Suffix ladder for the constructed freepv candidates, best first.
var dmmFreePVSuffixes = []string{
	"_4k_w", "_hhb_w", "_mhb_w", "_hmb_w", "_mmb_w", "_dmb_w", "_dm_w", "_sm_w",
}

var dmmCIDShape = regexp.MustCompile(`^[a-z0-9_]+$`)

// dmmValidCID rejects values that are not a catalog cid: they need at
// least one letter, one digit, and no dots.
func dmmValidCID(cid string) bool {
	return cid != "" &&
		dmmCIDShape.MatchString(cid) &&
		strings.ContainsAny(cid, "abcdefghijklmnopqrstuvwxyz") &&
		strings.ContainsAny(cid, "0123456789")
}

// dmmFreePVURL constructs the canonical litevideo sample URL for a cid.
func dmmFreePVURL(cid, suffix string) string {
	cid = strings.ToLower(strings.TrimSpace(cid))
	if !dmmValidCID(cid) || len(cid) < 3 {
		return ""
	}
	return fmt.Sprintf("https://cc3001.dmm.co.jp/litevideo/freepv/%s/%s/%s/%s%s.mp4",
		cid[:1], cid[:3], cid, cid, suffix)
}

// dmmFreePVCandidates builds the whole quality ladder for a cid.
func dmmFreePVCandidates(cid string) []string {
	var out []string
	for _, suffix := range dmmFreePVSuffixes {
		if u := dmmFreePVURL(cid, suffix); u != "" {
			out = append(out, u)
		}
	}
	return out
}

var dmmPVTempLinkRe = regexp.MustCompile(`(?i)^https?://pics\.litevideo\.dmm\.co\.jp/pv/([^/?#]+)/([^/?#]+)\.jpg`)

// dmmCanonicalTrailerURL converts a /pv/ thumbnail-style temp link into
// the stable cc3001 form; anything else passes through unchanged.
func dmmCanonicalTrailerURL(trailerURL string) string {
	m := dmmPVTempLinkRe.FindStringSubmatch(withHTTPS(strings.TrimSpace(trailerURL)))
	if m == nil {
		return trailerURL
	}
	token, stem := m[1], m[2]
	if !dmmValidCID(strings.ToLower(stem)) {
		return trailerURL
	}
	return fmt.Sprintf("https://cc3001.dmm.co.jp/pv/%s/%smhb.mp4", token, stem)
}

// The mono storefront exposes its sample video three different ways
// depending on page generation; each step below is one of them.
var (
	dmmGAEventRe      = regexp.MustCompile(`gaEventVideoStart\('([^']+)'`)
	dmmDataVideoRe    = regexp.MustCompile(`data-video-url="([^"]+)"`)
	dmmSampleReplayRe = regexp.MustCompile(`sampleVideoRePlay\('([^']+)'\)`)
	dmmIframeSrcRe    = regexp.MustCompile(`src="([^"]+)"`)
	dmmPlayerArgsRe   = regexp.MustCompile(`(?s)const\s+args\s*=\s*(\{.*?\});`)
)

// dmmTrailerFromGAEvent reads the analytics payload the newest page
// generation embeds next to the play button.
func dmmTrailerFromGAEvent(detailHTML string) string {
	m := dmmGAEventRe.FindStringSubmatch(detailHTML)
	if m == nil {
		return ""
	}
	var payload struct {
		VideoURL string `json:"video_url"`
	}
	if err := json.Unmarshal([]byte(html.UnescapeString(m[1])), &payload); err != nil {
		return ""
	}
	return withHTTPS(strings.ReplaceAll(payload.VideoURL, `\/`, "/"))
}

// dmmAjaxMoviePath finds the sample-player include path on older pages.
func dmmAjaxMoviePath(detailHTML string) string {
	if m := dmmDataVideoRe.FindStringSubmatch(detailHTML); m != nil {
		return html.UnescapeString(m[1])
	}
	if m := dmmSampleReplayRe.FindStringSubmatch(detailHTML); m != nil {
		return html.UnescapeString(m[1])
	}
	return ""
}

// dmmTrailerFromPlayer reads the player bootstrap object; the bitrate
// list is ordered best first.
func dmmTrailerFromPlayer(playerHTML string) string {
	m := dmmPlayerArgsRe.FindStringSubmatch(playerHTML)
	if m == nil {
		return ""
	}
	var args struct {
		Src      string `json:"src"`
		Bitrates []struct {
			Src string `json:"src"`
		} `json:"bitrates"`
	}
	if err := json.Unmarshal([]byte(m[1]), &args); err != nil {
		return ""
	}
	for _, bitrate := range args.Bitrates {
		if bitrate.Src != "" {
			return withHTTPS(bitrate.Src)
		}
	}
	return withHTTPS(args.Src)
}

// fetchMonoTrailer resolves the DVD storefront's sample video: GA event
// payload first, else ajax include, then the player iframe's bootstrap.
func (s *DMM) fetchMonoTrailer(ctx context.Context, c *crawler.Context, detailURL, detailHTML string) string {
	if trailer := dmmTrailerFromGAEvent(detailHTML); trailer != "" {
		return trailer
	}

	ajaxPath := dmmAjaxMoviePath(detailHTML)
	if ajaxPath == "" {
		return ""
	}
	ajaxURL := resolveAgainst(detailURL, ajaxPath)
	ajaxPage, err := crawler.FetchPage(ctx, c, s, ajaxURL)
	if err != nil {
		c.Logger.Debug("Mono sample include fetch failed",
			zap.String("url", ajaxURL), zap.Error(err))
		return ""
	}

	m := dmmIframeSrcRe.FindStringSubmatch(ajaxPage.Text())
	if m == nil {
		return ""
	}
	playerURL := withHTTPS(html.UnescapeString(m[1]))
	playerPage, err := crawler.FetchPage(ctx, c, s, playerURL)
	if err != nil {
		c.Logger.Debug("Mono player fetch failed",
			zap.String("url", playerURL), zap.Error(err))
		return ""
	}
	return dmmTrailerFromPlayer(playerPage.Text())
}

func resolveAgainst(baseURL, ref string) string {
	base, err := neturl.Parse(baseURL)
	if err != nil {
		return ref
	}
	refURL, err := neturl.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}
