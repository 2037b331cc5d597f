package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/pkg/types"
)

func javbusTestContext(number string) *crawler.Context {
	return &crawler.Context{
		LookupID: "test",
		Input:    types.LookupInput{Number: number},
		Config:   config.SitesConfig{Language: "jp"},
	}
}

func TestJavBusBuildURLs(t *testing.T) {
	s := NewJavBus()
	c := javbusTestContext("abc-123")

	assert.Equal(t, []string{"https://www.javbus.com/ABC-123"}, s.BuildDetail(c))
	assert.Equal(t, []string{
		"https://www.javbus.com/search/abc-123",
		"https://www.javbus.com/uncensored/search/abc-123",
	}, s.BuildSearch(c))
	assert.Equal(t, map[string]string{"existmag": "all"}, s.Cookies())
}

func TestJavBusParseSearch(t *testing.T) {
	s := NewJavBus()
	body := []byte(`<html><body>
	<a class="movie-box" href="/ABC-123"><div class="photo-info">
		<date>ABC-123</date> <date>2023-08-15</date></div></a>
	<a class="movie-box" href="/ABC-1234"><div class="photo-info">
		<date>ABC-1234</date> <date>2023-09-01</date></div></a>
	</body></html>`)
	page := crawler.NewPage("https://www.javbus.com/search/ABC-123", "https://www.javbus.com/search/ABC-123", body)

	urls, err := s.ParseSearch(javbusTestContext("ABC-123"), page)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.javbus.com/ABC-123"}, urls)
}

const javbusDetailHTML = `<!DOCTYPE html>
<html><body><div class="container">
<h3>ABC-123 素晴らしい作品タイトル</h3>
<div class="row movie">
	<div class="col-md-9 screencap">
		<a class="bigImage" href="/pics/cover/abc123_b.jpg"><img src="/pics/cover/abc123_b.jpg"></a>
	</div>
	<div class="col-md-3 info">
		<p><span class="header">識別碼:</span> <span style="color:#CC0000;">ABC-123</span></p>
		<p><span class="header">發行日期:</span> 2023-08-15</p>
		<p><span class="header">長度:</span> 120分鐘</p>
		<p><span class="header">導演:</span> <a href="/director/ok">高橋一郎</a></p>
		<p><span class="header">製作商:</span> <a href="/studio/ok">プレステージ</a></p>
		<p><span class="header">發行商:</span> <a href="/label/ok">ABC</a></p>
		<p><span class="header">系列:</span> <a href="/series/ok">新人シリーズ</a></p>
		<p><span class="header">類別:</span></p>
		<p><span class="genre"><a href="/genre/1">単体作品</a></span>
		   <span class="genre"><a href="/genre/2">デビュー作品</a></span></p>
	</div>
</div>
<div id="sample-waterfall">
	<a class="sample-box" href="/pics/sample/abc123_1.jpg"><img src="/pics/sample/abc123_1.jpg"></a>
	<a class="sample-box" href="/pics/sample/abc123_2.jpg"><img src="/pics/sample/abc123_2.jpg"></a>
</div>
<div id="avatar-waterfall">
	<a class="avatar-box"><div class="star-name"><a href="/star/xyz">山田花子</a></div></a>
</div>
</div></body></html>`

func TestJavBusParseDetail(t *testing.T) {
	s := NewJavBus()
	detailURL := "https://www.javbus.com/ABC-123"
	page := crawler.NewPage(detailURL, detailURL, []byte(javbusDetailHTML))

	data, err := s.ParseDetail(javbusTestContext("ABC-123"), page)
	require.NoError(t, err)

	assert.Equal(t, "ABC-123", data.Number)
	assert.Equal(t, "素晴らしい作品タイトル", data.Title)
	assert.Equal(t, "2023-08-15", data.Release)
	assert.Equal(t, "2023", data.Year)
	assert.Equal(t, "120", data.Runtime)
	assert.Equal(t, []string{"高橋一郎"}, data.Directors)
	assert.Equal(t, "プレステージ", data.Studio)
	assert.Equal(t, "ABC", data.Publisher)
	assert.Equal(t, "新人シリーズ", data.Series)
	assert.Equal(t, []string{"単体作品", "デビュー作品"}, data.Tags)
	assert.Equal(t, []string{"山田花子"}, data.Actors)
	assert.Equal(t, "https://www.javbus.com/pics/cover/abc123_b.jpg", data.Thumb)
	assert.Equal(t, "https://www.javbus.com/pics/thumb/abc123.jpg", data.Poster)
	assert.Equal(t, []string{
		"https://www.javbus.com/pics/sample/abc123_1.jpg",
		"https://www.javbus.com/pics/sample/abc123_2.jpg",
	}, data.ExtraFanart)
	assert.Equal(t, "right", data.ImageCut)
	assert.Equal(t, detailURL, data.Source)
	assert.Empty(t, data.Mosaic)
}

func TestJavBusParseDetailPlaceholderRelease(t *testing.T) {
	s := NewJavBus()
	body := []byte(`<html><body><div class="container">
	<h3>ABC-123 タイトル</h3>
	<div class="info">
		<p><span class="header">識別碼:</span> ABC-123</p>
		<p><span class="header">發行日期:</span> 0000-00-00</p>
	</div>
	</div></body></html>`)
	page := crawler.NewPage("https://www.javbus.com/ABC-123", "https://www.javbus.com/ABC-123", body)

	data, err := s.ParseDetail(javbusTestContext("ABC-123"), page)
	require.NoError(t, err)
	assert.Equal(t, "", data.Release)
	assert.Equal(t, "", data.Year)
}

func TestJavBusParseDetailMismatch(t *testing.T) {
	s := NewJavBus()
	body := []byte(`<html><body><div class="container">
	<h3>ABC-124 別の作品</h3>
	<div class="info"><p><span class="header">識別碼:</span> ABC-124</p></div>
	</div></body></html>`)
	page := crawler.NewPage("https://www.javbus.com/ABC-124", "https://www.javbus.com/ABC-124", body)

	_, err := s.ParseDetail(javbusTestContext("ABC-123"), page)
	require.ErrorIs(t, err, crawler.ErrMismatch)
}

func TestJavBusParseDetailNotFound(t *testing.T) {
	s := NewJavBus()
	body := []byte(`<html><body><div class="container"></div></body></html>`)
	page := crawler.NewPage("https://www.javbus.com/NOPE-000", "https://www.javbus.com/NOPE-000", body)

	_, err := s.ParseDetail(javbusTestContext("NOPE-000"), page)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestJavBusParseDetailUncensoredMosaic(t *testing.T) {
	s := NewJavBus()
	body := []byte(`<html><body><div class="container">
	<h3>HEYZO-1234 タイトル</h3>
	<div class="info"><p><span class="header">識別碼:</span> HEYZO-1234</p></div>
	</div></body></html>`)
	detailURL := "https://www.javbus.com/uncensored/HEYZO-1234"
	page := crawler.NewPage(detailURL, detailURL, body)

	data, err := s.ParseDetail(javbusTestContext("HEYZO-1234"), page)
	require.NoError(t, err)
	assert.Equal(t, "无码", data.Mosaic)
}

func TestJavBusPosterURL(t *testing.T) {
	assert.Equal(t,
		"https://www.javbus.com/pics/thumb/abc123.jpg",
		javbusPosterURL("https://www.javbus.com/pics/cover/abc123_b.jpg"))
	assert.Equal(t, "", javbusPosterURL("https://example.com/other.jpg"))
	assert.Equal(t, "", javbusPosterURL(""))
}
