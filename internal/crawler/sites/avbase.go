package sites

import (
	"context"
	"encoding/json"
	neturl "net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/internal/refiner"
	"github.com/avmeta/harvester/pkg/types"
)

// AVBase crawls avbase.net, an aggregator whose detail pages embed the
// whole record as a Next.js data island. Every work carries a product
// list, one per upstream store; the richest product wins.
type AVBase struct {
	BaseURL string
}

func NewAVBase() *AVBase {
	return &AVBase{BaseURL: "https://www.avbase.net"}
}

func (s *AVBase) Name() types.Website { return types.SiteAVBase }

func (s *AVBase) BuildSearch(c *crawler.Context) []string {
	number := strings.TrimSpace(c.Input.Number)
	if number == "" {
		return nil
	}
	return []string{s.BaseURL + "/works?q=" + neturl.QueryEscape(number)}
}

// ParseSearch takes the first work link of the result list. Date-browse
// links share the /works prefix and are skipped.
func (s *AVBase) ParseSearch(c *crawler.Context, page *crawler.Page) ([]string, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, crawler.Parse(s.Name(), "%v", err)
	}

	var href string
	doc.Find(`a[href^="/works/"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h, _ := a.Attr("href")
		if strings.HasPrefix(h, "/works/date") {
			return true
		}
		href = h
		return false
	})
	if href == "" {
		return nil, nil
	}
	return []string{s.BaseURL + href}, nil
}

type avbaseNamed struct {
	Name string `json:"name"`
}

type avbaseProduct struct {
	Source     string      `json:"source"`
	Title      string      `json:"title"`
	ImageURL   string      `json:"image_url"`
	TrailerURL string      `json:"trailer_url"`
	Date       string      `json:"date"`
	Maker      avbaseNamed `json:"maker"`
	Label      avbaseNamed `json:"label"`
	Series     avbaseNamed `json:"series"`
	ItemInfo   struct {
		Description string `json:"description"`
		Director    string `json:"director"`
		Volume      string `json:"volume"`
	} `json:"iteminfo"`
	// Sample entries are either {"l": ..., "s": ...} objects or bare
	// URL strings depending on the upstream store.
	SampleImageURLs []json.RawMessage `json:"sample_image_urls"`
}

type avbaseWork struct {
	WorkID   string `json:"work_id"`
	Prefix   string `json:"prefix"`
	Title    string `json:"title"`
	Note     string `json:"note"`
	MinDate  string `json:"min_date"`
	Casts    []struct {
		Actor avbaseNamed `json:"actor"`
	} `json:"casts"`
	Genres   []avbaseNamed   `json:"genres"`
	Tags     []avbaseNamed   `json:"tags"`
	Products []avbaseProduct `json:"products"`
}

type avbaseNextData struct {
	Props struct {
		PageProps struct {
			Work avbaseWork `json:"work"`
		} `json:"pageProps"`
	} `json:"props"`
}

// ParseDetail reads the __NEXT_DATA__ island.
func (s *AVBase) ParseDetail(c *crawler.Context, page *crawler.Page) (*types.CrawlerData, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, crawler.Parse(s.Name(), "%v", err)
	}

	island := doc.Find(`script#__NEXT_DATA__`).First().Text()
	if strings.TrimSpace(island) == "" {
		return nil, crawler.Parse(s.Name(), "detail page has no __NEXT_DATA__ island")
	}
	var next avbaseNextData
	if err := json.Unmarshal([]byte(island), &next); err != nil {
		return nil, crawler.Parse(s.Name(), "__NEXT_DATA__: %v", err)
	}
	work := next.Props.PageProps.Work
	if work.WorkID == "" && work.Title == "" && len(work.Products) == 0 {
		return nil, crawler.NotFound(s.Name(), c.Input.Number)
	}

	product := s.pickProduct(work.Products)

	number := strings.TrimSpace(work.WorkID)
	if number == "" {
		number = types.NormalizeNumber(c.Input.Number)
	}
	externalID := number
	if prefix := strings.TrimSpace(work.Prefix); prefix != "" && number != "" {
		externalID = prefix + ":" + number
	}

	title := strings.TrimSpace(work.Title)
	if title == "" {
		title = strings.TrimSpace(product.Title)
	}

	outline := strings.TrimSpace(work.Note)
	if outline == "" {
		outline = strings.TrimSpace(product.ItemInfo.Description)
	}
	if outline == "" {
		outline = s.bestDescription(work.Products)
	}

	thumb := s.absoluteURL(product.ImageURL)

	data := &types.CrawlerData{
		Number:        number,
		Title:         title,
		Outline:       outline,
		Actors:        s.castNames(work),
		Tags:          s.tagNames(work),
		Release:       avbaseReleaseDate(firstNonEmpty(product.Date, work.MinDate)),
		Runtime:       digitsRe.FindString(product.ItemInfo.Volume),
		Series:        strings.TrimSpace(product.Series.Name),
		Studio:        strings.TrimSpace(product.Maker.Name),
		Publisher:     strings.TrimSpace(product.Label.Name),
		Thumb:         thumb,
		Poster:        avbasePosterURL(thumb),
		ExtraFanart:   s.bestSampleImages(work.Products, &product),
		Trailer:       s.absoluteURL(product.TrailerURL),
		ExternalID:    externalID,
		ImageCut:      "right",
		ImageDownload: false,
		Source:        page.URL,
	}
	data.AllActors = data.Actors
	data.Directors = splitNames(product.ItemInfo.Director)
	if data.Publisher == "" {
		data.Publisher = data.Studio
	}
	return data, nil
}

// PostProcess mirrors the DMM image handling: the aggregator mostly
// relays FANZA assets, so the same pl/ps pairing, AWS mirror and
// VR/SOD rules apply.
func (s *AVBase) PostProcess(ctx context.Context, c *crawler.Context, data *types.CrawlerData) error {
	if data.Number == "" {
		data.Number = types.NormalizeNumber(c.Input.Number)
	}

	data.Thumb, data.Poster = avbaseCoverPair(data.Thumb, data.Poster)

	ref := refiner.New(c.Client, c.Logger)
	if strings.Contains(data.Thumb, "pics.dmm.co.jp") {
		data.Thumb = ref.UpgradeAWSImage(ctx, data.Thumb)
		data.Thumb, data.Poster = avbaseCoverPair(data.Thumb, data.Poster)
	}

	isVR := strings.Contains(strings.ToUpper(data.Title), "VR")
	isSOD := strings.Contains(strings.ToUpper(data.Studio), "SOD")
	data.ImageDownload = isVR || isSOD

	if isSOD && data.Poster != "" && data.Thumb != "" && data.Poster != data.Thumb {
		ratio := c.Config.DMM.SODPosterRatio
		if ratio <= 0 {
			ratio = 0.5
		}
		posterSize := ref.ContentLength(ctx, data.Poster)
		thumbSize := ref.ContentLength(ctx, data.Thumb)
		if posterSize > 0 && thumbSize > 0 && float64(posterSize) < float64(thumbSize)*ratio {
			data.ImageDownload = isVR
			data.ImageCut = "right"
		}
	}

	if data.Publisher == "" {
		data.Publisher = data.Studio
	}
	// The aggregator relays the Japanese store listings untranslated.
	if data.OriginalTitle == "" {
		data.OriginalTitle = data.Title
	}
	if data.OriginalPlot == "" {
		data.OriginalPlot = data.Outline
	}
	if year := types.YearFromRelease(data.Release); year != "" && data.Year == "" {
		data.Year = year
	}
	return nil
}

// pickProduct scores each store listing and keeps the best: FANZA
// sources beat the rest, then image, item detail and sample count.
func (s *AVBase) pickProduct(products []avbaseProduct) avbaseProduct {
	best := avbaseProduct{}
	bestScore := -1
	for _, product := range products {
		if score := avbaseProductScore(product); score > bestScore {
			best = product
			bestScore = score
		}
	}
	return best
}

func avbaseProductScore(product avbaseProduct) int {
	score := 0
	source := strings.ToLower(product.Source)
	if strings.Contains(source, "dmm.co.jp") || strings.Contains(source, "fanza") {
		score += 20
	}
	if product.ImageURL != "" {
		score += 5
	}
	if product.ItemInfo.Volume != "" {
		score += 2
	}
	score += len(product.SampleImageURLs)
	return score
}

func (s *AVBase) bestDescription(products []avbaseProduct) string {
	var candidates []avbaseProduct
	for _, product := range products {
		if strings.TrimSpace(product.ItemInfo.Description) != "" {
			candidates = append(candidates, product)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return strings.TrimSpace(s.pickProduct(candidates).ItemInfo.Description)
}

// bestSampleImages keeps the largest sample gallery, preferring the
// picked product and then score on ties.
func (s *AVBase) bestSampleImages(products []avbaseProduct, preferred *avbaseProduct) []string {
	var best []string
	bestKey := [3]int{}
	for i := range products {
		images := s.sampleImages(products[i])
		if len(images) == 0 {
			continue
		}
		isPreferred := 0
		if products[i].Source == preferred.Source && products[i].ImageURL == preferred.ImageURL {
			isPreferred = 1
		}
		key := [3]int{len(images), isPreferred, avbaseProductScore(products[i])}
		if key[0] > bestKey[0] ||
			(key[0] == bestKey[0] && key[1] > bestKey[1]) ||
			(key[0] == bestKey[0] && key[1] == bestKey[1] && key[2] > bestKey[2]) {
			bestKey = key
			best = images
		}
	}
	return best
}

func (s *AVBase) sampleImages(product avbaseProduct) []string {
	var out []string
	for _, raw := range product.SampleImageURLs {
		var sizes struct {
			L string `json:"l"`
			S string `json:"s"`
		}
		var u string
		if err := json.Unmarshal(raw, &sizes); err == nil {
			u = firstNonEmpty(sizes.L, sizes.S)
		} else {
			json.Unmarshal(raw, &u)
		}
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, s.absoluteURL(u))
		}
	}
	return dedupe(out)
}

func (s *AVBase) castNames(work avbaseWork) []string {
	var names []string
	for _, cast := range work.Casts {
		if name := strings.TrimSpace(cast.Actor.Name); name != "" {
			names = append(names, name)
		}
	}
	return dedupe(names)
}

func (s *AVBase) tagNames(work avbaseWork) []string {
	var names []string
	for _, group := range [][]avbaseNamed{work.Genres, work.Tags} {
		for _, item := range group {
			if name := strings.TrimSpace(item.Name); name != "" {
				names = append(names, name)
			}
		}
	}
	return dedupe(names)
}

func (s *AVBase) absoluteURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	return resolveAgainst(s.BaseURL, ref)
}

func avbasePosterURL(thumb string) string {
	if strings.HasSuffix(thumb, "pl.jpg") {
		return strings.TrimSuffix(thumb, "pl.jpg") + "ps.jpg"
	}
	return thumb
}

// avbaseCoverPair reconstructs the pl/ps pair from whichever of the two
// URLs carries a recognizable stem.
func avbaseCoverPair(thumb, poster string) (string, string) {
	for _, candidate := range []string{thumb, poster} {
		for _, suffix := range []string{"pl.jpg", "ps.jpg"} {
			if strings.HasSuffix(candidate, suffix) {
				stem := strings.TrimSuffix(candidate, suffix)
				return stem + "pl.jpg", stem + "ps.jpg"
			}
		}
	}
	if thumb != "" && poster == "" {
		return thumb, thumb
	}
	if poster != "" && thumb == "" {
		return poster, poster
	}
	return thumb, poster
}

var (
	avbaseISODateRe     = regexp.MustCompile(`(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})`)
	avbaseEnglishDateRe = regexp.MustCompile(`^[A-Za-z]{3}\s+([A-Za-z]{3})\s+(\d{1,2})\s+(\d{4})`)
)

var avbaseMonths = map[string]string{
	"jan": "01", "feb": "02", "mar": "03", "apr": "04",
	"may": "05", "jun": "06", "jul": "07", "aug": "08",
	"sep": "09", "oct": "10", "nov": "11", "dec": "12",
}

// avbaseReleaseDate normalizes both ISO-ish and JS-toString English
// dates ("Sat Aug 15 2023") to YYYY-MM-DD.
func avbaseReleaseDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if m := avbaseISODateRe.FindStringSubmatch(raw); m != nil {
		return m[1] + "-" + pad2(m[2]) + "-" + pad2(m[3])
	}
	if m := avbaseEnglishDateRe.FindStringSubmatch(raw); m != nil {
		if month, ok := avbaseMonths[strings.ToLower(m[1])]; ok {
			return m[3] + "-" + month + "-" + pad2(m[2])
		}
	}
	return raw
}

func pad2(digits string) string {
	if len(digits) == 1 {
		return "0" + digits
	}
	return digits
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
