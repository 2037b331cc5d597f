package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Website identifies a metadata source site.
type Website string

// Known metadata sources.
const (
	SiteDMM     Website = "dmm"
	SiteMissAV  Website = "missav"
	SiteAVBase  Website = "avbase"
	SiteJavBus  Website = "javbus"
	SiteMGStage Website = "mgstage"
)

// AllSites lists every implemented source in default priority order.
var AllSites = []Website{SiteDMM, SiteAVBase, SiteJavBus, SiteMGStage, SiteMissAV}

// ParseWebsite converts a config string to a Website.
func ParseWebsite(s string) (Website, error) {
	w := Website(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllSites {
		if w == known {
			return w, nil
		}
	}
	return "", fmt.Errorf("unknown website %q", s)
}

// LookupInput is the request for one metadata lookup.
type LookupInput struct {
	// Number is the video identifier, e.g. "ABC-123" or "107ABC-123".
	Number string `json:"number"`
	// AppointURL forces a specific detail page instead of searching.
	AppointURL string `json:"appoint_url,omitempty"`
	// Language hint for sites with language variants ("jp", "zh_cn", "en").
	Language string `json:"language,omitempty"`
	// ShortNumber is the label-local short form when known
	// (e.g. "GANA-3327" for "200GANA-3327").
	ShortNumber string `json:"short_number,omitempty"`
	// Mosaic hint: "有码" (censored), "无码" (uncensored) or empty.
	Mosaic string `json:"mosaic,omitempty"`
	// SkipCache bypasses the merged-record cache for this lookup.
	SkipCache bool `json:"skip_cache,omitempty"`
}

// CrawlerData is one site's normalized record for a number.
type CrawlerData struct {
	Number string `json:"number"`
	Title  string `json:"title"`
	// OriginalTitle keeps the source-language title when the site
	// serves a translated one.
	OriginalTitle string `json:"originaltitle"`
	Outline       string `json:"outline"`
	// OriginalPlot keeps the source-language outline.
	OriginalPlot string   `json:"originalplot"`
	Actors       []string `json:"actors,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Release      string   `json:"release"`
	Year         string   `json:"year"`
	Runtime      string   `json:"runtime"`
	Score        string   `json:"score"`
	Series       string   `json:"series"`
	Directors    []string `json:"directors,omitempty"`
	Studio       string   `json:"studio"`
	Publisher    string   `json:"publisher"`
	Thumb        string   `json:"thumb"`
	Poster       string   `json:"poster"`
	ExtraFanart  []string `json:"extrafanart,omitempty"`
	Trailer      string   `json:"trailer"`
	Mosaic       string   `json:"mosaic,omitempty"`
	// Website is the site this record came from.
	Website Website `json:"website"`
	// Source is the detail page URL the record was parsed from.
	Source string `json:"source"`
	// ExternalID is the site-local identifier (cid, work id, ...).
	ExternalID string `json:"external_id,omitempty"`
	// ImageDownload forces downloading the poster instead of hotlinking.
	ImageDownload bool `json:"image_download,omitempty"`
	// ImageCut selects poster cropping: "right", "center" or "".
	ImageCut string `json:"image_cut,omitempty"`
	// ActorPhotos maps actor name to profile image URL.
	ActorPhotos map[string]string `json:"actor_photo,omitempty"`
	// AllActors includes names the site marks as non-performers.
	AllActors []string `json:"all_actors,omitempty"`
}

// MergedRecord is the final per-number record after fanout and merge.
type MergedRecord struct {
	CrawlerData

	// FieldSources records which site won each merged field.
	FieldSources map[string]Website `json:"field_sources"`
	// SiteData keeps every per-site record that participated in the merge.
	SiteData map[Website]*CrawlerData `json:"site_data,omitempty"`
	// Elapsed is the wall time of the whole lookup.
	Elapsed time.Duration `json:"elapsed"`
	// FromCache is set when the record was served from the record cache.
	FromCache bool `json:"from_cache,omitempty"`
}

// Placeholder values that sites emit for "no data". A field holding one
// of these is treated as absent during the merge.
var invalidPlaceholders = map[string]struct{}{
	"":           {},
	"0":          {},
	"00":         {},
	"0.0":        {},
	"0000-00-00": {},
}

// ValidField reports whether a scraped field value carries real data.
func ValidField(v string) bool {
	_, bad := invalidPlaceholders[strings.TrimSpace(v)]
	return !bad
}

// YearFromRelease derives the four digit year from a release date.
// Returns "" when the release does not start with a plausible year.
func YearFromRelease(release string) string {
	if len(release) < 4 {
		return ""
	}
	year := release[:4]
	n, err := strconv.Atoi(year)
	if err != nil || n < 1900 || n > 2100 {
		return ""
	}
	return year
}

// Duration wraps time.Duration with extended YAML parsing support for days and weeks
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for extended duration formats
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	// Try standard parsing first (handles: ns, us, ms, s, m, h)
	dur, err := time.ParseDuration(s)
	if err == nil {
		*d = Duration(dur)
		return nil
	}

	dur, err = parseExtendedDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler for Duration.
// Accepts both numbers (nanoseconds) and strings ("15s", "24h", "30d", "2w").
func (d *Duration) UnmarshalJSON(data []byte) error {
	var ns int64
	if err := json.Unmarshal(data, &ns); err == nil {
		*d = Duration(ns)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or number, got %s", string(data))
	}

	dur, err := time.ParseDuration(s)
	if err == nil {
		*d = Duration(dur)
		return nil
	}

	dur, err = parseExtendedDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON implements json.Marshaler for Duration.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ToDuration converts types.Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer for Duration
func (d Duration) String() string {
	return time.Duration(d).String()
}

var extendedDurationRe = regexp.MustCompile(`^(-?)(\d+(?:\.\d+)?)(d|w)$`)

// parseExtendedDuration parses duration strings with extended suffixes: d (days), w (weeks)
func parseExtendedDuration(s string) (time.Duration, error) {
	matches := extendedDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid format, expected format like '30d' or '2w'")
	}

	value, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %w", err)
	}
	if matches[1] == "-" {
		value = -value
	}

	switch matches[3] {
	case "d":
		return time.Duration(value * float64(24*time.Hour)), nil
	case "w":
		return time.Duration(value * float64(7*24*time.Hour)), nil
	}
	return 0, fmt.Errorf("unsupported suffix %q", matches[3])
}
