package sites

import (
	neturl "net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/pkg/types"
)

// MissAV crawls missav.ws. Censored numbers map straight to a detail
// path; all-digit uncensored numbers, label-suffixed variants included,
// go through the site search first.
type MissAV struct {
	BaseURL string
}

func NewMissAV() *MissAV {
	return &MissAV{BaseURL: "https://missav.ws"}
}

func (s *MissAV) Name() types.Website { return types.SiteMissAV }

// Detail paths may end in a language suffix which is not part of the
// slug.
var missavLangSuffixes = map[string]struct{}{
	"cn": {}, "en": {}, "jp": {}, "ja": {}, "tw": {}, "hk": {},
}

// First path segments that are navigation, never a detail page.
var missavBlacklistPrefixes = map[string]struct{}{
	"search": {}, "genres": {}, "genre": {}, "makers": {}, "maker": {},
	"actresses": {}, "actress": {}, "actors": {}, "actor": {},
	"directors": {}, "director": {}, "series": {}, "tags": {}, "tag": {},
	"label": {}, "labels": {}, "studio": {}, "studios": {},
	"faq": {}, "privacy": {}, "terms": {}, "about": {}, "contact": {},
	"login": {}, "register": {}, "assets": {}, "api": {}, "cdn-cgi": {},
}

var missavSoft404Titles = []string{
	"missav | 免費高清av在線看",
	"missav | 免费高清av在线看",
	"missav | free jav online streaming",
	"missav | 無料エロ動画見放題",
}

var missavNotFoundTexts = []string{
	"找不到頁面",
	"找不到页面",
	"page not found",
	"not found",
}

// Boilerplate the site stuffs into every og:description. Two or more
// hits mean the description is the site pitch, not a plot.
var missavGenericOutlineMarkers = []string{
	"免費高清日本av在線看",
	"免费高清日本av在线看",
	"無需下載",
	"无需下载",
	"開始播放後不會再有廣告",
	"开始播放后不会再有广告",
	"支援任何裝置包括手機",
	"支持任何装置包括手机",
	"可以番號",
	"可以番号",
	"加入會員後可任意收藏影片供日後觀賞",
	"加入会员后可任意收藏影片供日后观赏",
}

func (s *MissAV) useSearch(number string) bool {
	// Judged on the date-serial prefix: "010115-001-1pon" is still
	// uncensored.
	return types.UncensoredPrefix(s.searchKeyword(number)) != ""
}

// searchKeyword normalizes the input for slug comparisons, reduced to
// the date-serial prefix when the number carries a trailing suffix.
func (s *MissAV) searchKeyword(number string) string {
	normalized := strings.ToLower(strings.TrimSpace(number))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if prefix := types.UncensoredPrefix(normalized); prefix != "" {
		return prefix
	}
	return normalized
}

// BuildSearch returns the site search only for uncensored numbers.
func (s *MissAV) BuildSearch(c *crawler.Context) []string {
	number := strings.TrimSpace(c.Input.Number)
	if number == "" {
		return nil
	}
	if s.useSearch(number) {
		return []string{s.BaseURL + "/search/" + neturl.PathEscape(number)}
	}
	return nil
}

// BuildDetail addresses the detail page directly for censored numbers.
func (s *MissAV) BuildDetail(c *crawler.Context) []string {
	number := strings.TrimSpace(c.Input.Number)
	if number == "" || s.useSearch(number) {
		return nil
	}
	return []string{s.directDetailURL(number)}
}

func (s *MissAV) directDetailURL(number string) string {
	return s.ensureCNDetailURL(s.BaseURL + "/" + neturl.PathEscape(number))
}

// ParseSearch picks the first plausible detail link, preferring one
// whose slug contains the searched number. An empty result falls back
// to the direct detail URL; the page 404s there if the record truly
// does not exist.
func (s *MissAV) ParseSearch(c *crawler.Context, page *crawler.Page) ([]string, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, crawler.Parse(s.Name(), "%v", err)
	}

	expected := s.searchKeyword(c.Input.Number)

	var candidates []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !s.isDetailHref(href) {
			return
		}
		detailURL := s.ensureCNDetailURL(s.resolve(href))
		if _, ok := seen[detailURL]; ok {
			return
		}
		seen[detailURL] = struct{}{}
		candidates = append(candidates, detailURL)
	})

	if len(candidates) == 0 {
		return []string{s.directDetailURL(c.Input.Number)}, nil
	}
	if expected != "" {
		for _, detailURL := range candidates {
			slug := strings.ReplaceAll(strings.ToLower(s.slug(detailURL)), "_", "-")
			if strings.Contains(slug, expected) {
				return []string{detailURL}, nil
			}
		}
	}
	return candidates[:1], nil
}

func (s *MissAV) resolve(href string) string {
	base, err := neturl.Parse(s.BaseURL)
	if err != nil {
		return href
	}
	ref, err := neturl.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// isDetailHref filters search-result links down to detail pages: same
// host, no query, not a navigation prefix, slug contains a digit,
// and at most "dmXX/slug" path depth.
func (s *MissAV) isDetailHref(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return false
	}

	u, err := neturl.Parse(s.resolve(href))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	baseHost := strings.TrimPrefix(strings.ToLower(hostOf(s.BaseURL)), "www.")
	if strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") != baseHost {
		return false
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return false
	}

	parts := s.detailPathParts(u.Path)
	if len(parts) == 0 || len(parts) > 2 {
		return false
	}
	if _, blacklisted := missavBlacklistPrefixes[strings.ToLower(parts[0])]; blacklisted {
		return false
	}
	if len(parts) == 2 && !strings.HasPrefix(strings.ToLower(parts[0]), "dm") {
		return false
	}
	return strings.ContainsAny(parts[len(parts)-1], "0123456789")
}

func hostOf(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// detailPathParts splits a path and strips trailing language suffixes.
func (s *MissAV) detailPathParts(path string) []string {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	for len(parts) > 0 {
		if _, ok := missavLangSuffixes[strings.ToLower(parts[len(parts)-1])]; !ok {
			break
		}
		parts = parts[:len(parts)-1]
	}
	return parts
}

func (s *MissAV) slug(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	parts := s.detailPathParts(u.Path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// ensureCNDetailURL pins the Chinese page variant; its labels are the
// ones the parser knows.
func (s *MissAV) ensureCNDetailURL(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return rawURL
	}
	parts := s.detailPathParts(u.Path)
	if len(parts) == 0 {
		return rawURL
	}
	u.Path = "/" + strings.Join(append(parts, "cn"), "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func (s *MissAV) externalID(rawURL string) string {
	parts := s.detailPathParts(pathOf(rawURL))
	for _, part := range parts {
		if strings.HasPrefix(strings.ToLower(part), "dm") {
			return strings.ToLower(part)
		}
	}
	if len(parts) > 0 {
		return strings.ToLower(parts[len(parts)-1])
	}
	return ""
}

func pathOf(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

// codeFrom canonicalizes a number-ish value to "prefix-digits" with
// leading zeros stripped, lowercased and alphanumeric only, for
// comparing the input against what the page turned out to be.
func (s *MissAV) codeFrom(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "")
	prefix, digits, ok := types.SplitNumber(normalized)
	if !ok {
		return ""
	}
	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	if len(trimmed) < 3 && len(digits) >= 3 {
		trimmed = strings.Repeat("0", 3-len(trimmed)) + trimmed
	}
	code := prefix + "-" + trimmed
	return nonAlnumRe.ReplaceAllString(code, "")
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]`)

var code404 = regexp.MustCompile(`(^|\s)404(\s|$)`)

// soft404 detects the site's styled not-found page, which answers 200.
func (s *MissAV) soft404(doc *goquery.Document) bool {
	ogTitle := strings.ToLower(metaContent(doc, "og:title"))
	if ogTitle == "" {
		ogTitle = strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	}
	ogImage := strings.ToLower(metaContent(doc, "og:image"))

	var texts []string
	doc.Find("h1, p").Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			texts = append(texts, strings.ToLower(t))
		}
	})
	blob := strings.Join(texts, " ")

	has404 := code404.MatchString(blob)
	hasNotFoundText := false
	for _, marker := range missavNotFoundTexts {
		if strings.Contains(blob, marker) {
			hasNotFoundText = true
			break
		}
	}
	if hasNotFoundText && has404 {
		return true
	}

	genericTitle := false
	for _, marker := range missavSoft404Titles {
		if strings.Contains(ogTitle, marker) {
			genericTitle = true
			break
		}
	}
	return genericTitle && strings.Contains(ogImage, "logo-square.png") && has404
}

// ParseDetail extracts the record from a detail page.
func (s *MissAV) ParseDetail(c *crawler.Context, page *crawler.Page) (*types.CrawlerData, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, crawler.Parse(s.Name(), "%v", err)
	}
	if s.soft404(doc) {
		return nil, crawler.NotFound(s.Name(), c.Input.Number)
	}

	finalURL := metaContent(doc, "og:url")
	if finalURL == "" {
		finalURL = page.FinalURL
	}

	rows := missavInfoRows(doc)

	data := &types.CrawlerData{
		Number:    rows.value(missavCodeLabels),
		Title:     rows.value(missavTitleLabels),
		Outline:   s.outline(doc),
		Release:   rows.value(missavReleaseLabels),
		Series:    rows.first(missavSeriesLabels),
		Publisher: rows.first(missavMakerLabels),
		Thumb:     metaContent(doc, "og:image"),
	}
	if data.Title == "" {
		data.Title = metaContent(doc, "og:title")
		if data.Title == "" {
			data.Title = strings.TrimSpace(doc.Find("h1").First().Text())
		}
	}
	// The label row keeps the original-language title even when the
	// heading is translated; the outline is served untranslated.
	data.OriginalTitle = rows.value(missavTitleLabels)
	if data.OriginalTitle == "" {
		data.OriginalTitle = data.Title
	}
	data.OriginalPlot = data.Outline

	if data.Release == "" {
		data.Release = metaContent(doc, "og:video:release_date")
	}

	runtime := rows.value(missavDurationLabels)
	if runtime == "" {
		runtime = metaContent(doc, "og:video:duration")
	}
	data.Runtime = toMinutes(runtime)

	data.Actors = s.actors(doc, rows)
	data.AllActors = s.allActors(doc, rows)
	data.Directors = rows.names(missavDirectorLabels)
	if len(data.Directors) == 0 {
		data.Directors = normalizePersonNames(metaContents(doc, "og:video:director"))
	}
	data.Directors = dedupe(data.Directors)
	data.Tags = s.tags(doc, rows)

	// The page we landed on decides the real number; a redirect to a
	// different title is a mismatch, not a result.
	inputCode := s.codeFrom(c.Input.Number)
	pageCode := s.codeFrom(s.slug(finalURL))
	if pageCode == "" {
		pageCode = s.codeFrom(data.Number)
	}
	if inputCode != "" && pageCode != "" && inputCode != pageCode {
		return nil, crawler.Mismatch(s.Name(), c.Input.Number, s.slug(finalURL))
	}
	if canonical := upperLetters(s.slug(finalURL)); canonical != "" {
		data.Number = canonical
	}

	if s.useSearch(c.Input.Number) {
		expected := s.searchKeyword(c.Input.Number)
		slug := strings.ReplaceAll(strings.ToLower(s.slug(finalURL)), "_", "-")
		if expected != "" && !strings.Contains(slug, expected) {
			return nil, crawler.Mismatch(s.Name(), c.Input.Number, s.slug(finalURL))
		}
	}

	if data.Number == "" {
		data.Number = upperLetters(c.Input.Number)
	}
	data.ExternalID = s.externalID(finalURL)
	if data.ExternalID == "" {
		data.ExternalID = strings.ToLower(data.Number)
	}
	if data.Poster == "" {
		data.Poster = data.Thumb
	}
	if data.Year == "" {
		data.Year = yearFrom(data.Release)
	}
	data.Source = finalURL
	return data, nil
}

func (s *MissAV) outline(doc *goquery.Document) string {
	outline := metaContent(doc, "og:description", "description")
	normalized := strings.ToLower(strings.ReplaceAll(outline, "　", ""))
	normalized = strings.Join(strings.Fields(normalized), "")
	if normalized == "" {
		return ""
	}
	hits := 0
	for _, marker := range missavGenericOutlineMarkers {
		if strings.Contains(normalized, marker) {
			hits++
			if hits >= 2 {
				return ""
			}
		}
	}
	return outline
}

// actors prefers the actress row; a page crediting only male actors
// yields an empty list rather than the wrong names.
func (s *MissAV) actors(doc *goquery.Document, rows missavRows) []string {
	if actresses := rows.names(missavActressLabels); len(actresses) > 0 {
		return actresses
	}
	if neutral := rows.names(missavNeutralActorLabels); len(neutral) > 0 {
		return neutral
	}
	if males := rows.names(missavActorLabels); len(males) > 0 {
		return nil
	}
	return normalizePersonNames(metaContents(doc, "og:video:actor"))
}

func (s *MissAV) allActors(doc *goquery.Document, rows missavRows) []string {
	all := append(rows.names(missavActressLabels), rows.names(missavActorLabels)...)
	all = append(all, rows.names(missavNeutralActorLabels)...)
	if len(all) == 0 {
		all = normalizePersonNames(metaContents(doc, "og:video:actor"))
	}
	return dedupe(all)
}

func (s *MissAV) tags(doc *goquery.Document, rows missavRows) []string {
	tags := rows.list(missavTagLabels)
	if len(tags) == 0 {
		tags = rows.listAll(missavTagFallbackLabels)
	}
	if len(tags) == 0 {
		doc.Find(`div.text-secondary a[href*="/genres/"]`).Each(func(_ int, a *goquery.Selection) {
			if t := strings.TrimSpace(a.Text()); t != "" {
				tags = append(tags, t)
			}
		})
	}
	return dedupe(tags)
}

// Label sets cover the Chinese (traditional and simplified) and
// English page variants.
var (
	missavCodeLabels         = []string{"番號", "番号", "code"}
	missavTitleLabels        = []string{"標題", "标题", "title"}
	missavActressLabels      = []string{"女優", "女优", "actress"}
	missavActorLabels        = []string{"男優", "男优", "actor"}
	missavNeutralActorLabels = []string{"演員", "演员", "cast", "performer", "performers"}
	missavReleaseLabels      = []string{"發行日期", "发行日期", "release date", "releasedate"}
	missavDurationLabels     = []string{"時長", "时长", "duration", "runtime"}
	missavTagLabels          = []string{"類型", "类型", "genre", "genres", "tags"}
	missavTagFallbackLabels  = []string{"標籤", "标签"}
	missavSeriesLabels       = []string{"系列", "series"}
	missavMakerLabels        = []string{"發行商", "发行商", "maker", "publisher", "studio"}
	missavDirectorLabels     = []string{"導演", "导演", "director"}
)

var labelNoise = regexp.MustCompile(`[:：\s]+`)

func normalizeLabel(label string) string {
	return strings.ToLower(labelNoise.ReplaceAllString(label, ""))
}

type missavRow struct {
	value string
	links []string
}

type missavRows map[string][]missavRow

// missavInfoRows walks the info panel: each row is a div with a label
// span and either a value span, a time element, or links.
func missavInfoRows(doc *goquery.Document) missavRows {
	rows := make(missavRows)
	doc.Find("div.text-secondary").Each(func(_ int, row *goquery.Selection) {
		spans := row.ChildrenFiltered("span")
		if spans.Length() == 0 {
			return
		}
		label := normalizeLabel(spans.First().Text())
		if label == "" {
			return
		}

		value := strings.TrimSpace(row.Find("span.font-medium").First().Text())
		if value == "" {
			value = strings.TrimSpace(row.Find("time").First().Text())
		}
		var links []string
		row.Find("a").Each(func(_ int, a *goquery.Selection) {
			if t := strings.TrimSpace(a.Text()); t != "" {
				links = append(links, t)
			}
		})
		if value == "" && len(links) > 0 {
			value = strings.Join(links, " | ")
		}
		rows[label] = append(rows[label], missavRow{value: value, links: links})
	})
	return rows
}

func (r missavRows) find(labels []string) (missavRow, bool) {
	for _, label := range labels {
		if matches := r[normalizeLabel(label)]; len(matches) > 0 {
			return matches[0], true
		}
	}
	return missavRow{}, false
}

// value returns the row's display value.
func (r missavRows) value(labels []string) string {
	row, _ := r.find(labels)
	return row.value
}

// first returns the first link text, falling back to the value.
func (r missavRows) first(labels []string) string {
	row, ok := r.find(labels)
	if !ok {
		return ""
	}
	if len(row.links) > 0 {
		return row.links[0]
	}
	return row.value
}

// names returns person names from links, else from splitting the value.
func (r missavRows) names(labels []string) []string {
	row, ok := r.find(labels)
	if !ok {
		return nil
	}
	if len(row.links) > 0 {
		return normalizePersonNames(row.links)
	}
	return normalizePersonNames(splitNames(row.value))
}

// list returns the first matching row as a list.
func (r missavRows) list(labels []string) []string {
	row, ok := r.find(labels)
	if !ok {
		return nil
	}
	if len(row.links) > 0 {
		return row.links
	}
	return splitNames(row.value)
}

// listAll concatenates every matching row.
func (r missavRows) listAll(labels []string) []string {
	var out []string
	for _, label := range labels {
		for _, row := range r[normalizeLabel(label)] {
			if len(row.links) > 0 {
				out = append(out, row.links...)
			} else {
				out = append(out, splitNames(row.value)...)
			}
		}
	}
	return out
}
