package sites

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/pkg/types"
)

// JavBus serves censored and uncensored catalogs from the same host.
// Detail pages live directly under /{NUMBER}, so the direct URL is
// tried before the search listing.
type JavBus struct {
	BaseURL string
}

func NewJavBus() *JavBus {
	return &JavBus{BaseURL: "https://www.javbus.com"}
}

func (s *JavBus) Name() types.Website { return types.SiteJavBus }

// Cookies unlocks listings that hide entries without magnet links.
func (s *JavBus) Cookies() map[string]string {
	return map[string]string{"existmag": "all"}
}

// BuildDetail guesses the canonical detail URL from the number.
func (s *JavBus) BuildDetail(c *crawler.Context) []string {
	number := types.NormalizeNumber(c.Input.Number)
	if number == "" {
		return nil
	}
	return []string{s.BaseURL + "/" + number}
}

func (s *JavBus) BuildSearch(c *crawler.Context) []string {
	number := strings.TrimSpace(c.Input.Number)
	if number == "" {
		return nil
	}
	return []string{
		s.BaseURL + "/search/" + number,
		s.BaseURL + "/uncensored/search/" + number,
	}
}

// ParseSearch scans the result grid for the movie whose date-box number
// matches the lookup.
func (s *JavBus) ParseSearch(c *crawler.Context, page *crawler.Page) ([]string, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, crawler.Parse(s.Name(), "%v", err)
	}
	want := types.NormalizeNumber(c.Input.Number)

	var urls []string
	doc.Find(`a.movie-box`).Each(func(_ int, box *goquery.Selection) {
		href, ok := box.Attr("href")
		if !ok {
			return
		}
		number := types.NormalizeNumber(box.Find("date").First().Text())
		if number == want {
			urls = append(urls, resolveAgainst(page.URL, href))
		}
	})
	return urls, nil
}

// Label vocabulary of the traditional-Chinese detail layout.
var (
	javbusNumberLabels    = []string{"識別碼"}
	javbusReleaseLabels   = []string{"發行日期"}
	javbusRuntimeLabels   = []string{"長度"}
	javbusDirectorLabels  = []string{"導演"}
	javbusStudioLabels    = []string{"製作商"}
	javbusPublisherLabels = []string{"發行商"}
	javbusSeriesLabels    = []string{"系列"}
)

func (s *JavBus) ParseDetail(c *crawler.Context, page *crawler.Page) (*types.CrawlerData, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, crawler.Parse(s.Name(), "%v", err)
	}

	title := strings.TrimSpace(doc.Find("div.container h3").First().Text())
	if title == "" {
		return nil, crawler.NotFound(s.Name(), c.Input.Number)
	}

	rows := javbusInfoRows(doc)
	number := types.NormalizeNumber(rows.value(javbusNumberLabels))
	if number == "" {
		number = types.NormalizeNumber(c.Input.Number)
	}
	if want := types.NormalizeNumber(c.Input.Number); want != "" && number != want {
		return nil, crawler.Mismatch(s.Name(), want, number)
	}

	// Titles repeat the number up front.
	title = strings.TrimSpace(strings.TrimPrefix(title, number))

	thumb := ""
	if src, ok := doc.Find("a.bigImage img").First().Attr("src"); ok {
		thumb = resolveAgainst(page.URL, src)
	}

	var fanart []string
	doc.Find("#sample-waterfall a.sample-box").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && strings.TrimSpace(href) != "" {
			fanart = append(fanart, resolveAgainst(page.URL, href))
		}
	})

	var tags []string
	doc.Find("span.genre a").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if strings.Contains(href, "/star/") || strings.Contains(href, "searchstar") {
			return
		}
		if tag := strings.TrimSpace(a.Text()); tag != "" {
			tags = append(tags, tag)
		}
	})

	var actors []string
	doc.Find("div.star-name a").Each(func(_ int, a *goquery.Selection) {
		if name := strings.TrimSpace(a.Text()); name != "" {
			actors = append(actors, name)
		}
	})

	// DVD listings without a date carry a literal placeholder.
	release := rows.value(javbusReleaseLabels)
	if release == "0000-00-00" {
		release = ""
	}

	data := &types.CrawlerData{
		Number:      number,
		Title:       title,
		Actors:      dedupe(actors),
		Tags:        dedupe(tags),
		Release:     release,
		Runtime:     digitsRe.FindString(rows.value(javbusRuntimeLabels)),
		Studio:      rows.value(javbusStudioLabels),
		Publisher:   rows.value(javbusPublisherLabels),
		Series:      rows.value(javbusSeriesLabels),
		Thumb:       thumb,
		Poster:      javbusPosterURL(thumb),
		ExtraFanart: fanart,
		ExternalID:  number,
		ImageCut:    "right",
		Source:      page.URL,
	}
	data.AllActors = data.Actors
	data.Directors = rows.links(javbusDirectorLabels)
	if len(data.Directors) == 0 {
		data.Directors = splitNames(rows.value(javbusDirectorLabels))
	}
	data.Year = types.YearFromRelease(data.Release)
	if strings.Contains(page.URL, "/uncensored/") || containsTag(data.Tags, "無碼") {
		data.Mosaic = "无码"
	}
	return data, nil
}

// javbusInfoRows collects the "<span class=header>label:</span> value"
// paragraphs of the info column.
func javbusInfoRows(doc *goquery.Document) labelRows {
	rows := labelRows{}
	doc.Find("div.info p").Each(func(_ int, p *goquery.Selection) {
		label := strings.TrimSpace(p.Find("span.header").First().Text())
		label = strings.TrimRight(label, "：:")
		if label == "" {
			return
		}
		clone := p.Clone()
		clone.Find("span.header").Remove()
		value := strings.TrimSpace(clone.Text())
		var links []string
		p.Find("a").Each(func(_ int, a *goquery.Selection) {
			if text := strings.TrimSpace(a.Text()); text != "" {
				links = append(links, text)
			}
		})
		rows[label] = labelRow{value: value, links: links}
	})
	return rows
}

// javbusPosterURL maps the big cover to its pre-cropped thumbnail.
func javbusPosterURL(thumb string) string {
	if !strings.Contains(thumb, "/cover/") {
		return ""
	}
	poster := strings.Replace(thumb, "/cover/", "/thumb/", 1)
	return strings.Replace(poster, "_b.jpg", ".jpg", 1)
}

func containsTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
