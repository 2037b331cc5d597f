package sites

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/internal/webclient"
	"github.com/avmeta/harvester/pkg/types"
)

// The TV storefronts have no scrapeable detail page; both expose a
// GraphQL API keyed by the cid (FANZA TV) or seasonId (DMM TV).

const fanzaTVQuery = `query FetchContent($id: ID!) {
  fanzaTvPlus {
    content(id: $id) {
      title
      description
      startDeliveryAt
      packageImage
      packageLargeImage
      playInfo { duration }
      genres { name }
      actresses { name }
      directors { name }
      series { name }
      maker { name }
      label { name }
      reviewSummary { averagePoint }
      samplePictures { imageLarge }
      sampleMovie { url thumbnail }
    }
  }
}`

const dmmTVQuery = `query FetchVideo($seasonId: ID!) {
  video(id: $seasonId) {
    titleName
    description
    packageImage
    keyVisualImage
    startPublicAt
    productionYear
    genres { name }
    casts { actorName }
    staffs { roleName staffName }
    reviewSummary { averagePoint }
  }
}`

func fanzaTVPayload(cid string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"operationName": "FetchContent",
		"query":         fanzaTVQuery,
		"variables":     map[string]string{"id": cid},
	})
	return body
}

func dmmTVPayload(seasonID string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"operationName": "FetchVideo",
		"query":         dmmTVQuery,
		"variables":     map[string]string{"seasonId": seasonID},
	})
	return body
}

// fetchGraphQL posts a query and wraps the JSON answer as a Page so the
// category dispatch in ParseDetail stays uniform.
func (s *DMM) fetchGraphQL(ctx context.Context, c *crawler.Context, endpoint string, payload []byte, detailURL string) (*crawler.Page, error) {
	resp, err := c.Client.Request(ctx, http.MethodPost, endpoint, &webclient.RequestOptions{
		Body:        payload,
		ContentType: "application/json",
		Cookies:     s.Cookies(),
	})
	if err != nil {
		return nil, crawler.Network(s.Name(), err)
	}
	return crawler.NewPage(detailURL, detailURL, resp.Body), nil
}

type dmmNamed struct {
	Name string `json:"name"`
}

type fanzaTVResponse struct {
	Data struct {
		FanzaTvPlus struct {
			Content struct {
				Title            string `json:"title"`
				Description      string `json:"description"`
				StartDeliveryAt  string `json:"startDeliveryAt"`
				PackageImage     string `json:"packageImage"`
				PackageLargeImg  string `json:"packageLargeImage"`
				PlayInfo         struct {
					Duration float64 `json:"duration"`
				} `json:"playInfo"`
				Genres        []dmmNamed `json:"genres"`
				Actresses     []dmmNamed `json:"actresses"`
				Directors     []dmmNamed `json:"directors"`
				Series        dmmNamed   `json:"series"`
				Maker         dmmNamed   `json:"maker"`
				Label         dmmNamed   `json:"label"`
				ReviewSummary struct {
					AveragePoint float64 `json:"averagePoint"`
				} `json:"reviewSummary"`
				SamplePictures []struct {
					ImageLarge string `json:"imageLarge"`
				} `json:"samplePictures"`
				SampleMovie struct {
					URL       string `json:"url"`
					Thumbnail string `json:"thumbnail"`
				} `json:"sampleMovie"`
			} `json:"content"`
		} `json:"fanzaTvPlus"`
	} `json:"data"`
}

func (s *DMM) parseFanzaTV(c *crawler.Context, page *crawler.Page) (*types.CrawlerData, error) {
	var resp fanzaTVResponse
	if err := json.Unmarshal(page.Body, &resp); err != nil {
		return nil, crawler.Parse(s.Name(), "fanza tv payload: %v", err)
	}
	content := resp.Data.FanzaTvPlus.Content
	if content.Title == "" {
		return nil, crawler.NotFound(s.Name(), c.Input.Number)
	}

	var fanart []string
	for _, pic := range content.SamplePictures {
		if pic.ImageLarge != "" {
			fanart = append(fanart, pic.ImageLarge)
		}
	}

	data := &types.CrawlerData{
		Title:       content.Title,
		Outline:     content.Description,
		Release:     isoDate(content.StartDeliveryAt),
		Poster:      content.PackageImage,
		Thumb:       content.PackageLargeImg,
		Tags:        namedList(content.Genres),
		Actors:      namedList(content.Actresses),
		Series:      content.Series.Name,
		Studio:      content.Maker.Name,
		Publisher:   content.Label.Name,
		ExtraFanart: fanart,
		ExternalID:  dmmContentID(page.URL),
		Source:      page.URL,
	}
	data.AllActors = data.Actors
	data.Directors = namedList(content.Directors)
	if content.PlayInfo.Duration > 0 {
		data.Runtime = strconv.Itoa(int(content.PlayInfo.Duration / 60))
	}
	if content.ReviewSummary.AveragePoint > 0 {
		data.Score = strconv.FormatFloat(content.ReviewSummary.AveragePoint, 'f', -1, 64)
	}
	data.Trailer = fanzaSampleTrailer(content.SampleMovie.URL)
	return data, nil
}

// fanzaSampleTrailer turns the streaming sample URL into a direct mp4.
// HLS playlists under /pv/ have no mp4 counterpart and are dropped.
func fanzaSampleTrailer(sampleURL string) string {
	raw := withHTTPS(strings.TrimSpace(sampleURL))
	if raw == "" {
		return ""
	}
	if strings.HasSuffix(strings.ToLower(raw), ".mp4") {
		return raw
	}
	converted := strings.Replace(raw, "hlsvideo", "litevideo", 1)
	if strings.Contains(converted, "/pv/") && strings.Contains(converted, "playlist.m3u8") {
		return ""
	}
	if idx := strings.LastIndex(converted, "/playlist.m3u8"); idx > 0 {
		dir := converted[:idx]
		cid := dir[strings.LastIndex(dir, "/")+1:]
		if cid != "" {
			return dir + "/" + cid + "_sm_w.mp4"
		}
	}
	return ""
}

type dmmTVResponse struct {
	Data struct {
		Video struct {
			TitleName      string     `json:"titleName"`
			Description    string     `json:"description"`
			PackageImage   string     `json:"packageImage"`
			KeyVisualImage string     `json:"keyVisualImage"`
			StartPublicAt  string     `json:"startPublicAt"`
			ProductionYear int        `json:"productionYear"`
			Genres         []dmmNamed `json:"genres"`
			Casts          []struct {
				ActorName string `json:"actorName"`
			} `json:"casts"`
			Staffs []struct {
				RoleName  string `json:"roleName"`
				StaffName string `json:"staffName"`
			} `json:"staffs"`
			ReviewSummary struct {
				AveragePoint float64 `json:"averagePoint"`
			} `json:"reviewSummary"`
		} `json:"video"`
	} `json:"data"`
}

// Staff roles that identify the production company.
var dmmStudioRoles = map[string]struct{}{
	"制作プロダクション": {},
	"制作":        {},
	"制作著作":      {},
}

func (s *DMM) parseDMMTV(c *crawler.Context, page *crawler.Page) (*types.CrawlerData, error) {
	var resp dmmTVResponse
	if err := json.Unmarshal(page.Body, &resp); err != nil {
		return nil, crawler.Parse(s.Name(), "dmm tv payload: %v", err)
	}
	video := resp.Data.Video
	if video.TitleName == "" {
		return nil, crawler.NotFound(s.Name(), c.Input.Number)
	}

	data := &types.CrawlerData{
		Title:      video.TitleName,
		Outline:    video.Description,
		Poster:     video.PackageImage,
		Thumb:      video.KeyVisualImage,
		Release:    isoDate(video.StartPublicAt),
		Tags:       namedList(video.Genres),
		ExternalID: dmmSeasonID(page.URL),
		Source:     page.URL,
	}
	if video.ProductionYear > 0 {
		data.Year = strconv.Itoa(video.ProductionYear)
	}
	if video.ReviewSummary.AveragePoint > 0 {
		data.Score = strconv.FormatFloat(video.ReviewSummary.AveragePoint, 'f', -1, 64)
	}
	for _, cast := range video.Casts {
		if cast.ActorName != "" {
			data.Actors = append(data.Actors, cast.ActorName)
		}
	}
	data.AllActors = data.Actors
	for _, staff := range video.Staffs {
		if staff.RoleName == "監督" && staff.StaffName != "" {
			data.Directors = append(data.Directors, staff.StaffName)
		}
		if _, ok := dmmStudioRoles[staff.RoleName]; ok && data.Studio == "" {
			data.Studio = staff.StaffName
		}
	}
	data.Publisher = data.Studio
	return data, nil
}

func namedList(items []dmmNamed) []string {
	var out []string
	for _, item := range items {
		if item.Name != "" {
			out = append(out, item.Name)
		}
	}
	return out
}

// isoDate trims an RFC 3339 timestamp down to its date.
func isoDate(ts string) string {
	ts = strings.TrimSpace(ts)
	if len(ts) >= 10 && ts[4] == '-' && ts[7] == '-' {
		return ts[:10]
	}
	return ts
}
