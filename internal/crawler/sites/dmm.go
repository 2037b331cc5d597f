package sites

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/browser"
	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/internal/refiner"
	"github.com/avmeta/harvester/pkg/types"
)

// DMM crawls the FANZA / DMM storefronts. One search fans out into up
// to three catalog schemes; each matching detail URL belongs to a sales
// category (streaming, DVD, rental, subscription, TV) and the category
// records merge with streaming data winning.
type DMM struct {
	SearchBaseCoJP string
	SearchBaseCom  string
	TVAPICoJP      string
	TVAPICom       string
}

func NewDMM() *DMM {
	return &DMM{
		SearchBaseCoJP: "https://www.dmm.co.jp",
		SearchBaseCom:  "https://www.dmm.com",
		TVAPICoJP:      "https://api.tv.dmm.co.jp/graphql",
		TVAPICom:       "https://api.tv.dmm.com/graphql",
	}
}

func (s *DMM) Name() types.Website { return types.SiteDMM }

// Cookies satisfies the adult gate on every storefront domain.
func (s *DMM) Cookies() map[string]string {
	return map[string]string{"age_check_done": "1"}
}

// dmmCategory is the sales channel a detail URL belongs to.
type dmmCategory int

const (
	dmmUnknown dmmCategory = iota
	dmmMonthly
	dmmPrime
	dmmRental
	dmmMono
	dmmDigital
	dmmTV
	dmmFanzaTV
)

// dmmCategoryOf classifies a detail URL by host and path. The ordering
// of the constants is the merge priority, lowest first.
func dmmCategoryOf(rawURL string) dmmCategory {
	lowered := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lowered, "tv.dmm.co.jp"):
		return dmmFanzaTV
	case strings.Contains(lowered, "tv.dmm.com"):
		return dmmTV
	case strings.Contains(lowered, "/digital/"):
		return dmmDigital
	case strings.Contains(lowered, "/mono/"):
		return dmmMono
	case strings.Contains(lowered, "/rental/"):
		return dmmRental
	case strings.Contains(lowered, "/prime/") || strings.Contains(lowered, "premium"):
		return dmmPrime
	case strings.Contains(lowered, "/monthly/"):
		return dmmMonthly
	}
	return dmmUnknown
}

var dmmDigitRun = regexp.MustCompile(`[a-z]+-?(\d+)`)

// dmmNumberForms derives the two catalog digit forms of a number:
// number00 swaps the dash for "00" (legacy cids), numberNo00 drops it.
// A 5+ digit run starting "00" loses that prefix; a 4-digit run turns
// the dash into "0".
func dmmNumberForms(number string) (number00, numberNo00 string) {
	n := strings.ToLower(strings.TrimSpace(number))
	if m := dmmDigitRun.FindStringSubmatch(n); m != nil {
		digits := m[1]
		switch {
		case len(digits) >= 5 && strings.HasPrefix(digits, "00"):
			n = strings.Replace(n, digits, digits[2:], 1)
		case len(digits) == 4:
			n = strings.ReplaceAll(n, "-", "0")
		}
	}
	return strings.ReplaceAll(n, "-", "00"), strings.ReplaceAll(n, "-", "")
}

// BuildSearch emits the ranked search URL for both digit forms on the
// adult storefront plus the general one (photo collections live there).
func (s *DMM) BuildSearch(c *crawler.Context) []string {
	number := strings.TrimSpace(c.Input.Number)
	if number == "" {
		return nil
	}
	number00, numberNo00 := dmmNumberForms(number)
	return []string{
		s.SearchBaseCoJP + "/search/=/searchstr=" + number00 + "/sort=ranking/",
		s.SearchBaseCoJP + "/search/=/searchstr=" + numberNo00 + "/sort=ranking/",
		s.SearchBaseCom + "/search/=/searchstr=" + numberNo00 + "/sort=ranking/",
	}
}

// The search page embeds its results as JSON with escaped quotes.
var dmmDetailURLRe = regexp.MustCompile(`detailUrl\\":\\"(.*?)\\"`)

var dmmNumberPartsRe = regexp.MustCompile(`(\d*[a-z]+)?-?(\d+)`)

// ParseSearch pulls every embedded detail URL and keeps the ones whose
// cid contains either the zero-padded or the plain digit form.
func (s *DMM) ParseSearch(c *crawler.Context, page *crawler.Page) ([]string, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, crawler.Parse(s.Name(), "%v", err)
	}
	if strings.Contains(doc.Find("span.d-txten").Text(), "404 Not Found") {
		return nil, crawler.Parse(s.Name(), "search page answered its styled 404")
	}

	matches := dmmDetailURLRe.FindAllStringSubmatch(page.Text(), -1)
	if len(matches) == 0 {
		return nil, nil
	}

	parts := dmmNumberPartsRe.FindStringSubmatch(strings.ToLower(c.Input.Number))
	if parts == nil {
		return nil, nil
	}
	prefix, digits := parts[1], parts[2]
	padded := digits
	if len(padded) < 5 {
		padded = strings.Repeat("0", 5-len(padded)) + padded
	}
	n1 := prefix + padded
	n2 := prefix + digits
	cidN1 := regexp.MustCompile(`[^a-z]` + regexp.QuoteMeta(n1) + `[^0-9]`)
	cidN2 := regexp.MustCompile(`[^a-z]` + regexp.QuoteMeta(n2) + `[^0-9]`)

	var urls []string
	seen := make(map[string]struct{})
	for _, m := range matches {
		raw := m[1]
		if !cidN1.MatchString(raw) && !cidN2.MatchString(raw) {
			continue
		}
		unescaped := unescapeJSONString(raw)
		if _, dup := seen[unescaped]; dup {
			continue
		}
		seen[unescaped] = struct{}{}
		urls = append(urls, unescaped)
	}
	return urls, nil
}

// unescapeJSONString resolves \uXXXX and \/ escapes left over from the
// embedded-JSON extraction.
func unescapeJSONString(raw string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &out); err != nil {
		return strings.ReplaceAll(raw, `\/`, "/")
	}
	return out
}

// FetchDetail routes each category to its transport: GraphQL for the
// TV storefronts, the headless browser for the JS-rendered streaming
// pages, plain fetches for everything else. Mono pages additionally get
// their trailer resolved here; it hides behind a player round trip.
func (s *DMM) FetchDetail(ctx context.Context, c *crawler.Context, url string) (*crawler.Page, error) {
	category := dmmCategoryOf(url)

	switch category {
	case dmmFanzaTV:
		return s.fetchGraphQL(ctx, c, s.TVAPICoJP, fanzaTVPayload(dmmContentID(url)), url)
	case dmmTV:
		return s.fetchGraphQL(ctx, c, s.TVAPICom, dmmTVPayload(dmmSeasonID(url)), url)
	case dmmDigital:
		if c.Browser != nil {
			html, finalURL, err := c.Browser.FetchHTML(ctx, url, &browser.FetchOptions{Cookies: s.Cookies()})
			if err == nil {
				return crawler.NewPage(url, finalURL, []byte(html)), nil
			}
			c.Logger.Warn("Browser fetch failed, falling back to plain fetch",
				zap.String("url", url), zap.Error(err))
		}
	}

	page, err := crawler.FetchPage(ctx, c, s, url)
	if err != nil {
		return nil, err
	}
	if category == dmmMono {
		if trailer := s.fetchMonoTrailer(ctx, c, url, page.Text()); trailer != "" {
			page.Extra = map[string]string{"trailer": trailer}
		}
	}
	return page, nil
}

// ParseDetail dispatches on the category the page URL belongs to.
func (s *DMM) ParseDetail(c *crawler.Context, page *crawler.Page) (*types.CrawlerData, error) {
	switch dmmCategoryOf(page.URL) {
	case dmmFanzaTV:
		return s.parseFanzaTV(c, page)
	case dmmTV:
		return s.parseDMMTV(c, page)
	default:
		return s.parseProductPage(c, page)
	}
}

// MergeCategories folds the per-category records in priority order so
// the richest channel overwrites the sparser ones field by field. The
// trailer is picked separately: best quality rank across all records.
func (s *DMM) MergeCategories(results []*types.CrawlerData) *types.CrawlerData {
	ordered := make([]*types.CrawlerData, len(results))
	copy(ordered, results)
	// Stable sort keeps the fetch order inside one category.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && dmmCategoryOf(ordered[j-1].Source) > dmmCategoryOf(ordered[j].Source); j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}

	merged := &types.CrawlerData{}
	bestTrailer := ""
	for _, r := range ordered {
		overwriteValid(merged, r)
		bestTrailer = refiner.PickBetterTrailer(bestTrailer, r.Trailer)
	}
	if bestTrailer != "" {
		merged.Trailer = bestTrailer
	} else if refiner.IsHLSPlaylist(merged.Trailer) {
		merged.Trailer = ""
	}
	return merged
}

// overwriteValid copies every valid field of src over dst.
func overwriteValid(dst, src *types.CrawlerData) {
	scalars := []struct{ d, s *string }{
		{&dst.Number, &src.Number},
		{&dst.Title, &src.Title},
		{&dst.OriginalTitle, &src.OriginalTitle},
		{&dst.Outline, &src.Outline},
		{&dst.OriginalPlot, &src.OriginalPlot},
		{&dst.Release, &src.Release},
		{&dst.Year, &src.Year},
		{&dst.Runtime, &src.Runtime},
		{&dst.Score, &src.Score},
		{&dst.Series, &src.Series},
		{&dst.Studio, &src.Studio},
		{&dst.Publisher, &src.Publisher},
		{&dst.Thumb, &src.Thumb},
		{&dst.Poster, &src.Poster},
		{&dst.Mosaic, &src.Mosaic},
		{&dst.Source, &src.Source},
		{&dst.ExternalID, &src.ExternalID},
	}
	for _, f := range scalars {
		if types.ValidField(*f.s) {
			*f.d = *f.s
		}
	}
	if len(src.Directors) > 0 {
		dst.Directors = src.Directors
	}
	if len(src.Actors) > 0 {
		dst.Actors = src.Actors
	}
	if len(src.AllActors) > 0 {
		dst.AllActors = src.AllActors
	}
	if len(src.Tags) > 0 {
		dst.Tags = src.Tags
	}
	if len(src.ExtraFanart) > 0 {
		dst.ExtraFanart = src.ExtraFanart
	}
}

// PostProcess backfills the number, upgrades images to the AWS mirror,
// derives the poster, and applies the VR/SOD direct-download rules.
func (s *DMM) PostProcess(ctx context.Context, c *crawler.Context, data *types.CrawlerData) error {
	if data.Number == "" {
		data.Number = types.NormalizeNumber(c.Input.Number)
	}
	// The storefront is Japanese only, so the parsed text is already
	// the original language.
	data.OriginalTitle = data.Title
	data.OriginalPlot = data.Outline

	ref := refiner.New(c.Client, c.Logger)
	number00, numberNo00 := dmmNumberForms(c.Input.Number)

	if data.Thumb != "" && strings.Contains(data.Thumb, "pics.dmm.co.jp") {
		data.Thumb = ref.UpgradeAWSImage(ctx, data.Thumb, number00, numberNo00)
	}
	if data.Thumb != "" {
		data.Poster = strings.Replace(data.Thumb, "pl.jpg", "ps.jpg", 1)
	}

	if !types.ValidField(data.Trailer) {
		data.Trailer = ref.BestValidTrailer(ctx, dmmFreePVCandidates(data.ExternalID), s.Cookies())
	} else if converted := dmmCanonicalTrailerURL(data.Trailer); converted != data.Trailer {
		data.Trailer = converted
	}
	if refiner.IsHLSPlaylist(data.Trailer) {
		data.Trailer = ""
	}

	// VR covers and SOD's odd aspect ratios crop badly; download the
	// dedicated poster instead.
	isVR := strings.Contains(data.Title, "VR")
	isSOD := strings.Contains(data.Studio, "SOD")
	data.ImageDownload = isVR || isSOD

	if isSOD && data.Poster != "" && data.Thumb != "" && data.Poster != data.Thumb {
		ratio := c.Config.DMM.SODPosterRatio
		if ratio <= 0 {
			ratio = 0.5
		}
		posterSize := ref.ContentLength(ctx, data.Poster)
		thumbSize := ref.ContentLength(ctx, data.Thumb)
		if posterSize > 0 && thumbSize > 0 && float64(posterSize) < float64(thumbSize)*ratio {
			// The dedicated poster is a low-resolution scan; crop the
			// landscape cover instead.
			data.ImageDownload = isVR
			data.ImageCut = "right"
		}
	}

	if data.Publisher == "" {
		data.Publisher = data.Studio
	}
	if year := types.YearFromRelease(data.Release); year != "" {
		data.Year = year
	}
	return nil
}

var dmmCIDRe = regexp.MustCompile(`(?i)(?:cid|content)=([^&/?#]+)`)

// dmmContentID extracts the cid from a detail or TV list URL.
func dmmContentID(rawURL string) string {
	if m := dmmCIDRe.FindStringSubmatch(rawURL); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

var dmmSeasonIDRe = regexp.MustCompile(`seasonId=(\d+)`)

func dmmSeasonID(rawURL string) string {
	if m := dmmSeasonIDRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

var dmmNumberFromCIDRe = regexp.MustCompile(`^(?:[a-z]_)?\d{0,4}([a-z]+)(\d{2,5})`)

// dmmNumberFromCID reconstructs a display number from a catalog cid,
// e.g. "ssis00497" becomes "SSIS-497".
func dmmNumberFromCID(cid string) string {
	m := dmmNumberFromCIDRe.FindStringSubmatch(strings.ToLower(cid))
	if m == nil {
		return ""
	}
	digits := strings.TrimLeft(m[2], "0")
	if digits == "" {
		digits = "0"
	}
	if len(digits) < 3 {
		digits = strings.Repeat("0", 3-len(digits)) + digits
	}
	return strings.ToUpper(m[1]) + "-" + digits
}

// dmmTableLabels maps the storefront's row labels onto record fields.
var (
	dmmReleaseLabels = []string{"配信開始日", "商品発売日", "発売日", "貸出開始日", "動画配信開始日"}
	dmmRuntimeLabels = []string{"収録時間", "収録"}
	dmmActorLabels   = []string{"出演者", "出演"}
	dmmDirectorLbls  = []string{"監督"}
	dmmSeriesLabels  = []string{"シリーズ"}
	dmmMakerLabels   = []string{"メーカー"}
	dmmLabelLabels   = []string{"レーベル"}
	dmmGenreLabels   = []string{"ジャンル"}
	dmmCIDLabels     = []string{"品番"}
)

// parseProductPage handles the digital, mono and rental detail layouts,
// which share the label-row table.
func (s *DMM) parseProductPage(c *crawler.Context, page *crawler.Page) (*types.CrawlerData, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, crawler.Parse(s.Name(), "%v", err)
	}

	title := strings.TrimSpace(doc.Find("h1#title").First().Text())
	if title == "" {
		title = metaContent(doc, "og:title")
	}
	if title == "" {
		return nil, crawler.NotFound(s.Name(), c.Input.Number)
	}

	rows := dmmInfoRows(doc)

	data := &types.CrawlerData{
		Title:   title,
		Release: dmmNormalizeDate(rows.value(dmmReleaseLabels)),
		Runtime: digitsRe.FindString(rows.value(dmmRuntimeLabels)),
		Series:  rows.first(dmmSeriesLabels),
		Studio:  rows.first(dmmMakerLabels),
		Tags:    rows.links(dmmGenreLabels),
	}
	data.Directors = rows.links(dmmDirectorLbls)
	if len(data.Directors) == 0 {
		data.Directors = splitNames(rows.value(dmmDirectorLbls))
	}
	data.Publisher = rows.first(dmmLabelLabels)
	data.Actors = normalizePersonNames(rows.links(dmmActorLabels))
	data.AllActors = data.Actors

	cid := rows.value(dmmCIDLabels)
	if cid == "" {
		cid = dmmContentID(page.URL)
	}
	data.ExternalID = strings.ToLower(strings.TrimSpace(cid))
	data.Number = dmmNumberFromCID(data.ExternalID)

	data.Outline = s.productOutline(doc)
	data.Score = dmmScore(doc)
	data.Thumb = s.packageImage(doc, data.ExternalID)
	data.ExtraFanart = s.sampleImages(doc)
	if trailer, ok := page.Extra["trailer"]; ok {
		data.Trailer = trailer
	}
	data.Source = page.URL
	return data, nil
}

func (s *DMM) productOutline(doc *goquery.Document) string {
	for _, selector := range []string{"div.mg-b20.lh4 p.mg-b20", "div.mg-b20.lh4", "p.mg-b20"} {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

var dmmScoreRe = regexp.MustCompile(`[\d.]+`)

func dmmScore(doc *goquery.Document) string {
	text := doc.Find("p.d-review__average strong").First().Text()
	if text == "" {
		text = doc.Find(".d-review__average").First().Text()
	}
	return dmmScoreRe.FindString(text)
}

// packageImage prefers the full-size package link over the og thumb.
func (s *DMM) packageImage(doc *goquery.Document, cid string) string {
	if href, ok := doc.Find(`a[name="package-image"]`).First().Attr("href"); ok && href != "" {
		return withHTTPS(href)
	}
	if cid != "" {
		if src, ok := doc.Find("img#package-src-" + cid).First().Attr("src"); ok && src != "" {
			return withHTTPS(strings.Replace(src, "ps.jpg", "pl.jpg", 1))
		}
	}
	return metaContent(doc, "og:image")
}

func (s *DMM) sampleImages(doc *goquery.Document) []string {
	var out []string
	doc.Find(`#sample-image-block img, a[name="sample-image"] img`).Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			return
		}
		// Sample thumbs swap to full size with the "jp" infix.
		src = withHTTPS(strings.Replace(src, "-", "jp-", 1))
		out = append(out, src)
	})
	return dedupe(out)
}

var dmmDateSeps = strings.NewReplacer("/", "-", "年", "-", "月", "-", "日", "")

func dmmNormalizeDate(raw string) string {
	cleaned := strings.TrimSpace(dmmDateSeps.Replace(strings.TrimSpace(raw)))
	if cleaned == "0000-00-00" {
		return ""
	}
	return cleaned
}

func withHTTPS(rawURL string) string {
	if strings.HasPrefix(rawURL, "//") {
		return "https:" + rawURL
	}
	return rawURL
}

// dmmInfoRows indexes the product detail table: each row is a label td
// followed by a value td.
type labelRows map[string]labelRow

type labelRow struct {
	value string
	links []string
}

func dmmInfoRows(doc *goquery.Document) labelRows {
	rows := make(labelRows)
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() < 2 {
			return
		}
		label := strings.TrimRight(strings.TrimSpace(cells.First().Text()), "：:")
		if label == "" {
			return
		}
		valueCell := cells.Eq(1)
		var links []string
		valueCell.Find("a").Each(func(_ int, a *goquery.Selection) {
			if t := strings.TrimSpace(a.Text()); t != "" && t != "----" {
				links = append(links, t)
			}
		})
		value := strings.TrimSpace(valueCell.Text())
		if value == "----" {
			value = ""
		}
		if _, exists := rows[label]; !exists {
			rows[label] = labelRow{value: value, links: links}
		}
	})
	return rows
}

func (r labelRows) value(labels []string) string {
	for _, label := range labels {
		if row, ok := r[label]; ok && row.value != "" {
			return row.value
		}
	}
	return ""
}

func (r labelRows) first(labels []string) string {
	for _, label := range labels {
		row, ok := r[label]
		if !ok {
			continue
		}
		if len(row.links) > 0 {
			return row.links[0]
		}
		if row.value != "" {
			return row.value
		}
	}
	return ""
}

func (r labelRows) links(labels []string) []string {
	for _, label := range labels {
		if row, ok := r[label]; ok && len(row.links) > 0 {
			return row.links
		}
	}
	return nil
}
