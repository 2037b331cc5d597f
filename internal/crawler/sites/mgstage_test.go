package sites

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/pkg/types"
)

func TestMGStageBuildDetail(t *testing.T) {
	s := NewMGStage()
	c := dmmTestContext(t, "200gana-3327")

	assert.Equal(t,
		[]string{"https://www.mgstage.com/product/product_detail/200GANA-3327/"},
		s.BuildDetail(c))
	assert.Empty(t, s.BuildSearch(c))
	assert.Equal(t, map[string]string{"adc": "1"}, s.Cookies())
}

func TestMGStageDisplayNumber(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"200GANA-3327", "GANA-3327"},
		{"300MIUM-1001", "MIUM-1001"},
		{"SIRO-5000", "SIRO-5000"},
		{"ABW-123", "ABW-123"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mgstageDisplayNumber(tt.code), tt.code)
	}
}

const mgstageDetailHTML = `<!DOCTYPE html>
<html><head>
<meta property="og:image" content="https://image.mgstage.com/images/nanpatv/200gana/3327/pb_e_200gana-3327.jpg">
</head><body>
<h1 class="tag">マジ軟派、初撮。 3327</h1>
<div class="detail_photo">
	<a id="EnlargeImage" href="//image.mgstage.com/images/nanpatv/200gana/3327/pb_e_200gana-3327.jpg"><img></a>
</div>
<p class="txt introduction">ナンパで出会った女の子との記録。</p>
<table>
	<tr><th>出演：</th><td><a href="/search/cSearch.php?name=hanako">はなこ 21歳</a></td></tr>
	<tr><th>収録時間：</th><td>64min</td></tr>
	<tr><th>品番：</th><td>200GANA-3327</td></tr>
	<tr><th>配信開始日：</th><td>2024/01/20</td></tr>
	<tr><th>シリーズ：</th><td><a href="/search/cSearch.php?series=1">マジ軟派、初撮。</a></td></tr>
	<tr><th>メーカー：</th><td><a href="/search/cSearch.php?maker=1">ナンパTV</a></td></tr>
	<tr><th>レーベル：</th><td>----</td></tr>
	<tr><th>ジャンル：</th><td><a href="/search/cSearch.php?genre=1">素人</a> <a href="/search/cSearch.php?genre=2">ハメ撮り</a></td></tr>
</table>
<a class="sample_image" href="//image.mgstage.com/images/nanpatv/200gana/3327/cap_e_0_200gana-3327.jpg"><img></a>
<a class="sample_image" href="//image.mgstage.com/images/nanpatv/200gana/3327/cap_e_1_200gana-3327.jpg"><img></a>
</body></html>`

func TestMGStageParseDetail(t *testing.T) {
	s := NewMGStage()
	detailURL := "https://www.mgstage.com/product/product_detail/200GANA-3327/"
	page := crawler.NewPage(detailURL, detailURL, []byte(mgstageDetailHTML))

	data, err := s.ParseDetail(dmmTestContext(t, "200GANA-3327"), page)
	require.NoError(t, err)

	assert.Equal(t, "GANA-3327", data.Number)
	assert.Equal(t, "200GANA-3327", data.ExternalID)
	assert.Equal(t, "マジ軟派、初撮。 3327", data.Title)
	assert.Equal(t, "ナンパで出会った女の子との記録。", data.Outline)
	assert.Equal(t, []string{"はなこ 21歳"}, data.Actors)
	assert.Equal(t, "64", data.Runtime)
	assert.Equal(t, "2024-01-20", data.Release)
	assert.Equal(t, "2024", data.Year)
	assert.Equal(t, "マジ軟派、初撮。", data.Series)
	assert.Equal(t, "ナンパTV", data.Studio)
	assert.Equal(t, "ナンパTV", data.Publisher)
	assert.Equal(t, []string{"素人", "ハメ撮り"}, data.Tags)
	assert.Equal(t,
		"https://image.mgstage.com/images/nanpatv/200gana/3327/pb_e_200gana-3327.jpg",
		data.Thumb)
	assert.Equal(t,
		"https://image.mgstage.com/images/nanpatv/200gana/3327/pf_o1_200gana-3327.jpg",
		data.Poster)
	assert.Len(t, data.ExtraFanart, 2)
	assert.Equal(t, "有码", data.Mosaic)
	assert.Equal(t, "right", data.ImageCut)
}

func TestMGStageParseDetailMismatch(t *testing.T) {
	s := NewMGStage()
	body := []byte(`<html><body><h1 class="tag">タイトル</h1>
	<table><tr><th>品番：</th><td>300MIUM-1001</td></tr></table></body></html>`)
	page := crawler.NewPage("https://www.mgstage.com/product/product_detail/300MIUM-1001/",
		"https://www.mgstage.com/product/product_detail/300MIUM-1001/", body)

	_, err := s.ParseDetail(dmmTestContext(t, "200GANA-3327"), page)
	require.ErrorIs(t, err, crawler.ErrMismatch)
}

func TestMGStageParseDetailNotFound(t *testing.T) {
	s := NewMGStage()
	page := crawler.NewPage("https://www.mgstage.com/product/product_detail/NOPE-000/",
		"https://www.mgstage.com/product/product_detail/NOPE-000/",
		[]byte(`<html><body><p>404</p></body></html>`))

	_, err := s.ParseDetail(dmmTestContext(t, "NOPE-000"), page)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestMGStageTrailerFromPlayer(t *testing.T) {
	trailer := mgstageTrailerFromPlayer([]byte(
		`{"url":"//sample.mgstage.com/sample/nanpatv/200gana/3327/200gana-3327_sample.ism/request.mp4?var=hls"}`))
	assert.Equal(t,
		"https://sample.mgstage.com/sample/nanpatv/200gana/3327/200gana-3327_sample.mp4",
		trailer)

	assert.Equal(t, "", mgstageTrailerFromPlayer([]byte(`{"url":""}`)))
	assert.Equal(t, "", mgstageTrailerFromPlayer([]byte(`not json`)))
}

func TestMGStagePostProcessFetchesTrailer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "200GANA-3327", r.URL.Query().Get("pid"))
		cookie, err := r.Cookie("adc")
		if assert.NoError(t, err) {
			assert.Equal(t, "1", cookie.Value)
		}
		w.Write([]byte(`{"url":"//sample.mgstage.com/sample/200gana-3327_sample.ism/request.mp4"}`))
	}))
	defer server.Close()

	s := NewMGStage()
	s.BaseURL = server.URL
	data := &types.CrawlerData{ExternalID: "200GANA-3327"}

	require.NoError(t, s.PostProcess(context.Background(), dmmTestContext(t, "200GANA-3327"), data))
	assert.Equal(t, "https://sample.mgstage.com/sample/200gana-3327_sample.mp4", data.Trailer)
}

func TestMGStagePosterURL(t *testing.T) {
	assert.Equal(t, "https://x/pf_o1_abc.jpg", mgstagePosterURL("https://x/pb_e_abc.jpg"))
	assert.Equal(t, "", mgstagePosterURL("https://x/cover.jpg"))
}
