// Package refiner upgrades the media URLs a crawler found: trailer
// quality-ladder probing, AWS image-mirror upgrades and image-size
// arbitration.
package refiner

import (
	"regexp"
	"strings"
)

// Trailer filenames encode the encoding tier. Higher is better.
var trailerQualityLevels = map[string]int{
	"sm":  1,
	"dm":  2,
	"dmb": 3,
	"mmb": 4,
	"hmb": 5,
	"mhb": 6,
	"hhb": 7,
	"4k":  8,
}

// Plural spellings seen on some CDN paths.
var trailerQualityAliases = map[string]string{
	"mmbs": "mmb",
	"hmbs": "hmb",
	"mhbs": "mhb",
	"hhbs": "hhb",
	"4ks":  "4k",
}

var (
	trailerSuffixedRe = regexp.MustCompile(`(?i)_(sm|dm|dmb|mmb|hmb|mhb|hhb|4k|mmbs|hmbs|mhbs|hhbs|4ks)_[a-z]\.mp4$`)
	trailerBareRe     = regexp.MustCompile(`(?i)(sm|dm|dmb|mmb|hmb|mhb|hhb|4k|mmbs|hmbs|mhbs|hhbs|4ks)\.mp4$`)
)

// TrailerRank scores a trailer URL on the quality ladder. Unknown
// shapes, including HLS playlists, rank 0.
func TrailerRank(trailerURL string) int {
	for _, re := range []*regexp.Regexp{trailerSuffixedRe, trailerBareRe} {
		m := re.FindStringSubmatch(trailerURL)
		if m == nil {
			continue
		}
		quality := strings.ToLower(m[1])
		if base, ok := trailerQualityAliases[quality]; ok {
			quality = base
		}
		return trailerQualityLevels[quality]
	}
	return 0
}

// IsHLSPlaylist reports whether a trailer URL points at an m3u8
// playlist, which downstream players cannot save.
func IsHLSPlaylist(trailerURL string) bool {
	return strings.Contains(strings.ToLower(trailerURL), ".m3u8")
}

// PickBetterTrailer keeps whichever of the two URLs ranks higher,
// preferring the current one on ties.
func PickBetterTrailer(current, candidate string) string {
	if candidate == "" || IsHLSPlaylist(candidate) {
		return current
	}
	if current == "" {
		return candidate
	}
	if TrailerRank(candidate) > TrailerRank(current) {
		return candidate
	}
	return current
}

// BestTrailer folds PickBetterTrailer over a candidate list.
func BestTrailer(candidates []string) string {
	best := ""
	for _, candidate := range candidates {
		best = PickBetterTrailer(best, strings.TrimSpace(candidate))
	}
	return best
}
