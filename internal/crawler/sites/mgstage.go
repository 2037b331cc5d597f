package sites

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/internal/refiner"
	"github.com/avmeta/harvester/pkg/types"
)

// MGStage hosts the prestige-group amateur labels. Product codes carry
// a numeric label prefix ("200GANA-3327") that the site keeps but the
// display number drops.
type MGStage struct {
	BaseURL string
}

func NewMGStage() *MGStage {
	return &MGStage{BaseURL: "https://www.mgstage.com"}
}

func (s *MGStage) Name() types.Website { return types.SiteMGStage }

// Cookies passes the adult confirmation gate.
func (s *MGStage) Cookies() map[string]string {
	return map[string]string{"adc": "1"}
}

// BuildDetail goes straight to the product page; the catalog is keyed
// by the full prefixed number.
func (s *MGStage) BuildDetail(c *crawler.Context) []string {
	number := types.NormalizeNumber(c.Input.Number)
	if number == "" {
		return nil
	}
	return []string{s.BaseURL + "/product/product_detail/" + number + "/"}
}

func (s *MGStage) BuildSearch(c *crawler.Context) []string { return nil }

func (s *MGStage) ParseSearch(c *crawler.Context, page *crawler.Page) ([]string, error) {
	return nil, nil
}

var (
	mgstageReleaseLabels = []string{"配信開始日", "商品発売日"}
	mgstageRuntimeLabels = []string{"収録時間"}
	mgstageNumberLabels  = []string{"品番"}
	mgstageSeriesLabels  = []string{"シリーズ"}
	mgstageMakerLabels   = []string{"メーカー"}
	mgstageLabelLabels   = []string{"レーベル"}
	mgstageGenreLabels   = []string{"ジャンル"}
	mgstageActorLabels   = []string{"出演"}
)

// mgstagePrefixRe splits the numeric label prefix off a product code.
var mgstagePrefixRe = regexp.MustCompile(`^\d{3,4}([A-Z]+-\d+)$`)

// mgstageDisplayNumber drops the label prefix for the user-facing
// number; the full code stays in the external id.
func mgstageDisplayNumber(number string) string {
	if m := mgstagePrefixRe.FindStringSubmatch(number); m != nil {
		return m[1]
	}
	return number
}

func (s *MGStage) ParseDetail(c *crawler.Context, page *crawler.Page) (*types.CrawlerData, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, crawler.Parse(s.Name(), "%v", err)
	}

	title := strings.TrimSpace(doc.Find("h1.tag").First().Text())
	if title == "" {
		title = metaContent(doc, "og:title")
	}
	if title == "" {
		return nil, crawler.NotFound(s.Name(), c.Input.Number)
	}

	rows := mgstageInfoRows(doc)
	productCode := types.NormalizeNumber(rows.value(mgstageNumberLabels))
	if productCode == "" {
		productCode = types.NormalizeNumber(c.Input.Number)
	}
	if want := types.NormalizeNumber(c.Input.Number); want != "" && productCode != want {
		return nil, crawler.Mismatch(s.Name(), want, productCode)
	}

	thumb := ""
	if href, ok := doc.Find("a#EnlargeImage").First().Attr("href"); ok {
		thumb = withHTTPS(strings.TrimSpace(href))
	}
	if thumb == "" {
		thumb = metaContent(doc, "og:image")
	}

	var fanart []string
	doc.Find("a.sample_image").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && strings.TrimSpace(href) != "" {
			fanart = append(fanart, withHTTPS(strings.TrimSpace(href)))
		}
	})

	release := strings.ReplaceAll(rows.value(mgstageReleaseLabels), "/", "-")

	actors := rows.links(mgstageActorLabels)
	if len(actors) == 0 {
		actors = splitNames(rows.value(mgstageActorLabels))
	}

	data := &types.CrawlerData{
		Number:      mgstageDisplayNumber(productCode),
		Title:       title,
		Outline:     strings.TrimSpace(doc.Find("p.txt.introduction").First().Text()),
		Actors:      normalizePersonNames(actors),
		Tags:        dedupe(rows.links(mgstageGenreLabels)),
		Release:     release,
		Year:        types.YearFromRelease(release),
		Runtime:     digitsRe.FindString(rows.value(mgstageRuntimeLabels)),
		Series:      rows.first(mgstageSeriesLabels),
		Studio:      rows.first(mgstageMakerLabels),
		Publisher:   rows.first(mgstageLabelLabels),
		Thumb:       thumb,
		Poster:      mgstagePosterURL(thumb),
		ExtraFanart: fanart,
		ExternalID:  productCode,
		Mosaic:      "有码",
		ImageCut:    "right",
		Source:      page.URL,
	}
	data.AllActors = data.Actors
	if data.Publisher == "" {
		data.Publisher = data.Studio
	}
	return data, nil
}

// PostProcess asks the sample-player endpoint for the trailer; the
// streaming manifest URL maps onto a direct mp4.
func (s *MGStage) PostProcess(ctx context.Context, c *crawler.Context, data *types.CrawlerData) error {
	if data.ExternalID == "" || c.Client == nil {
		return nil
	}
	playerURL := s.BaseURL + "/sampleplayer/sampleRespons.php?pid=" + data.ExternalID
	page, err := crawler.FetchPage(ctx, c, s, playerURL)
	if err != nil {
		return nil
	}
	if trailer := mgstageTrailerFromPlayer(page.Body); trailer != "" {
		data.Trailer = trailer
	}
	if data.Trailer != "" && refiner.IsHLSPlaylist(data.Trailer) {
		data.Trailer = ""
	}
	return nil
}

// mgstageTrailerFromPlayer decodes the sample-player JSON and rewrites
// the smooth-streaming manifest to the plain mp4 behind it.
func mgstageTrailerFromPlayer(body []byte) string {
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	u := withHTTPS(strings.TrimSpace(payload.URL))
	if u == "" {
		return ""
	}
	u = strings.Replace(u, ".ism/request.mp4", ".mp4", 1)
	if idx := strings.Index(u, ".mp4"); idx > 0 {
		u = u[:idx+len(".mp4")]
	}
	return u
}

// mgstagePosterURL derives the pre-cropped jacket from the cover image.
func mgstagePosterURL(thumb string) string {
	if strings.Contains(thumb, "pb_e_") {
		return strings.Replace(thumb, "pb_e_", "pf_o1_", 1)
	}
	return ""
}

// mgstageInfoRows reads the product detail table. Labels sit in th
// cells or the row's first td depending on page generation.
func mgstageInfoRows(doc *goquery.Document) labelRows {
	rows := make(labelRows)
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		labelCell := tr.ChildrenFiltered("th").First()
		valueCell := tr.ChildrenFiltered("td").First()
		if labelCell.Length() == 0 {
			cells := tr.ChildrenFiltered("td")
			if cells.Length() < 2 {
				return
			}
			labelCell = cells.First()
			valueCell = cells.Eq(1)
		}
		label := strings.TrimRight(strings.TrimSpace(labelCell.Text()), "：:")
		if label == "" {
			return
		}
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
