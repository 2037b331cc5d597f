package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/pkg/types"
)

func missavTestContext(number string) *crawler.Context {
	return &crawler.Context{
		LookupID: "test",
		Input:    types.LookupInput{Number: number},
		Config:   config.SitesConfig{Language: "jp"},
	}
}

const missavDetailHTML = `<!DOCTYPE html>
<html>
<head>
<meta property="og:url" content="https://missav.ws/dm22/abc-123">
<meta property="og:title" content="ABC-123 某个标题">
<meta property="og:description" content="新人女優のデビュー作品です。">
<meta property="og:image" content="https://cdn.missav.ws/covers/abc-123/cover-t.jpg">
<meta property="og:video:release_date" content="2023-08-15">
<meta property="og:video:actor" content="Yua Mikami (三上悠亜)">
</head>
<body>
<h1>ABC-123 某个标题</h1>
<div class="text-secondary"><span>番號:</span> <span class="font-medium">ABC-123</span></div>
<div class="text-secondary"><span>發行日期:</span> <time>2023-08-15</time></div>
<div class="text-secondary"><span>時長:</span> <span class="font-medium">7200</span></div>
<div class="text-secondary"><span>女優:</span> <a href="/actresses/mikami">三上悠亜</a></div>
<div class="text-secondary"><span>男優:</span> <a href="/actors/taka">タカ</a></div>
<div class="text-secondary"><span>類型:</span> <a href="/genres/1">單體作品</a><a href="/genres/2">中出</a></div>
<div class="text-secondary"><span>系列:</span> <a href="/series/9">交換する夜</a></div>
<div class="text-secondary"><span>發行商:</span> <a href="/makers/sone">エスワン</a></div>
<div class="text-secondary"><span>導演:</span> <a href="/directors/7">紋℃</a></div>
</body>
</html>`

func TestMissAVParseDetail(t *testing.T) {
	site := NewMissAV()
	page := &crawler.Page{
		URL:      "https://missav.ws/abc-123/cn",
		FinalURL: "https://missav.ws/dm22/abc-123/cn",
		Body:     []byte(missavDetailHTML),
	}

	data, err := site.ParseDetail(missavTestContext("ABC-123"), page)
	require.NoError(t, err)

	assert.Equal(t, "ABC-123", data.Number)
	assert.Equal(t, "ABC-123 某个标题", data.Title)
	assert.Equal(t, data.Title, data.OriginalTitle)
	assert.Equal(t, "新人女優のデビュー作品です。", data.Outline)
	assert.Equal(t, data.Outline, data.OriginalPlot)
	assert.Equal(t, "2023-08-15", data.Release)
	assert.Equal(t, "2023", data.Year)
	// 7200 seconds rounds to 120 minutes.
	assert.Equal(t, "120", data.Runtime)
	assert.Equal(t, []string{"三上悠亜"}, data.Actors)
	assert.Equal(t, []string{"三上悠亜", "タカ"}, data.AllActors)
	assert.Equal(t, []string{"單體作品", "中出"}, data.Tags)
	assert.Equal(t, "交換する夜", data.Series)
	assert.Equal(t, "エスワン", data.Publisher)
	assert.Equal(t, []string{"紋℃"}, data.Directors)
	assert.Equal(t, "https://cdn.missav.ws/covers/abc-123/cover-t.jpg", data.Thumb)
	assert.Equal(t, data.Thumb, data.Poster)
	assert.Equal(t, "dm22", data.ExternalID)
	assert.Equal(t, "https://missav.ws/dm22/abc-123", data.Source)
}

func TestMissAVParseDetailMaleOnlyCastYieldsNoActors(t *testing.T) {
	html := `<html><head>
<meta property="og:url" content="https://missav.ws/abc-123">
</head><body>
<div class="text-secondary"><span>番號:</span> <span class="font-medium">ABC-123</span></div>
<div class="text-secondary"><span>男優:</span> <a href="/actors/taka">タカ</a></div>
</body></html>`
	site := NewMissAV()
	page := &crawler.Page{FinalURL: "https://missav.ws/abc-123", Body: []byte(html)}

	data, err := site.ParseDetail(missavTestContext("ABC-123"), page)
	require.NoError(t, err)
	assert.Empty(t, data.Actors)
	assert.Equal(t, []string{"タカ"}, data.AllActors)
}

func TestMissAVParseDetailSoft404(t *testing.T) {
	html := `<html><head>
<meta property="og:title" content="MissAV | 免費高清AV在線看">
<meta property="og:image" content="https://missav.ws/img/logo-square.png">
</head><body>
<h1>404</h1>
<p>找不到頁面</p>
</body></html>`
	site := NewMissAV()
	page := &crawler.Page{FinalURL: "https://missav.ws/abc-999", Body: []byte(html)}

	_, err := site.ParseDetail(missavTestContext("ABC-999"), page)
	assert.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestMissAVParseDetailMismatchOnRedirect(t *testing.T) {
	html := `<html><head>
<meta property="og:url" content="https://missav.ws/xyz-999/cn">
</head><body>
<div class="text-secondary"><span>番號:</span> <span class="font-medium">XYZ-999</span></div>
</body></html>`
	site := NewMissAV()
	page := &crawler.Page{FinalURL: "https://missav.ws/xyz-999/cn", Body: []byte(html)}

	_, err := site.ParseDetail(missavTestContext("ABC-123"), page)
	assert.ErrorIs(t, err, crawler.ErrMismatch)
}

func TestMissAVParseDetailGenericOutlineDropped(t *testing.T) {
	html := `<html><head>
<meta property="og:url" content="https://missav.ws/abc-123">
<meta property="og:description" content="免費高清日本AV在線看，無需下載，ABC-123">
</head><body>
<div class="text-secondary"><span>番號:</span> <span class="font-medium">ABC-123</span></div>
</body></html>`
	site := NewMissAV()
	page := &crawler.Page{FinalURL: "https://missav.ws/abc-123", Body: []byte(html)}

	data, err := site.ParseDetail(missavTestContext("ABC-123"), page)
	require.NoError(t, err)
	assert.Empty(t, data.Outline)
}

func TestMissAVBuildDetailAndSearch(t *testing.T) {
	site := NewMissAV()

	// Censored numbers go straight to the detail page.
	assert.Equal(t, []string{"https://missav.ws/ABC-123/cn"},
		site.BuildDetail(missavTestContext("ABC-123")))
	assert.Nil(t, site.BuildSearch(missavTestContext("ABC-123")))

	// Uncensored numbers go through the site search.
	assert.Nil(t, site.BuildDetail(missavTestContext("010115-001")))
	assert.Equal(t, []string{"https://missav.ws/search/010115-001"},
		site.BuildSearch(missavTestContext("010115-001")))

	// A label suffix does not change the routing.
	assert.Nil(t, site.BuildDetail(missavTestContext("010101-123-U")))
	assert.Equal(t, []string{"https://missav.ws/search/010101-123-U"},
		site.BuildSearch(missavTestContext("010101-123-U")))
}

func TestMissAVParseDetailSuffixedUncensoredNumber(t *testing.T) {
	html := `<html><head>
<meta property="og:url" content="https://missav.ws/010101-123/cn">
</head><body>
<div class="text-secondary"><span>番號:</span> <span class="font-medium">010101-123</span></div>
</body></html>`
	site := NewMissAV()
	page := &crawler.Page{FinalURL: "https://missav.ws/010101-123/cn", Body: []byte(html)}

	// The slug only carries the date-serial prefix; the suffixed input
	// still matches it.
	data, err := site.ParseDetail(missavTestContext("010101-123-U"), page)
	require.NoError(t, err)
	assert.Equal(t, "010101-123", data.Number)

	// A page for a different serial is still rejected.
	other := &crawler.Page{FinalURL: "https://missav.ws/020202-456/cn", Body: []byte(`<html><head>
<meta property="og:url" content="https://missav.ws/020202-456/cn">
</head><body>
<div class="text-secondary"><span>番號:</span> <span class="font-medium">020202-456</span></div>
</body></html>`)}
	_, err = site.ParseDetail(missavTestContext("010101-123-U"), other)
	assert.ErrorIs(t, err, crawler.ErrMismatch)
}

func TestMissAVIsDetailHref(t *testing.T) {
	site := NewMissAV()
	tests := []struct {
		href string
		ok   bool
	}{
		{"https://missav.ws/dm22/abc-123", true},
		{"https://www.missav.ws/abc-123", true},
		{"/abc-123/cn", true},
		{"https://missav.ws/search/abc", false},
		{"https://missav.ws/genres/1", false},
		{"https://missav.ws/abc-123?ref=top", false},
		{"https://missav.ws/actresses/name", false},
		{"https://missav.ws/foo/abc-123", false}, // two parts needs a dm prefix
		{"https://other.example/abc-123", false},
		{"https://missav.ws/ranking", false}, // no digit in slug
		{"javascript:void(0)", false},
		{"#top", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, site.isDetailHref(tt.href), tt.href)
	}
}

func TestMissAVParseSearchPrefersExpectedSlug(t *testing.T) {
	html := `<html><body>
<a href="/dm21/abc-122">other</a>
<a href="/dm22/abc-123-uncensored-leak">hit</a>
</body></html>`
	site := NewMissAV()
	page := &crawler.Page{Body: []byte(html)}

	urls, err := site.ParseSearch(missavTestContext("ABC-123"), page)
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, "https://missav.ws/dm22/abc-123-uncensored-leak/cn", urls[0])
}

func TestMissAVParseSearchSuffixedUncensoredPrefersPrefix(t *testing.T) {
	html := `<html><body>
<a href="/dm1/020202-456">other</a>
<a href="/dm1/010101-123">hit</a>
</body></html>`
	site := NewMissAV()
	page := &crawler.Page{Body: []byte(html)}

	urls, err := site.ParseSearch(missavTestContext("010101-123-U"), page)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://missav.ws/dm1/010101-123/cn"}, urls)
}

func TestMissAVParseSearchFallsBackToDirectDetail(t *testing.T) {
	site := NewMissAV()
	page := &crawler.Page{Body: []byte(`<html><body><p>no results</p></body></html>`)}

	urls, err := site.ParseSearch(missavTestContext("ABC-123"), page)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://missav.ws/ABC-123/cn"}, urls)
}

func TestMissAVCodeFrom(t *testing.T) {
	site := NewMissAV()
	tests := []struct {
		in   string
		want string
	}{
		{"ABC-123", "abc123"},
		{"abc-00123", "abc123"},
		{"ABC_123", "abc123"},
		{"abc-012", "abc012"}, // 3-digit originals keep the zero padding
		{"nonsense", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, site.codeFrom(tt.in), tt.in)
	}
}

func TestHelpersToMinutes(t *testing.T) {
	assert.Equal(t, "120", toMinutes("7200"))
	assert.Equal(t, "90", toMinutes("90"))
	assert.Equal(t, "5", toMinutes("300"))
	assert.Equal(t, "150", toMinutes("150 分鐘"))
	assert.Equal(t, "", toMinutes("  "))
}

func TestHelpersPreferJapaneseName(t *testing.T) {
	assert.Equal(t, "三上悠亜", preferJapaneseName("Yua Mikami (三上悠亜)"))
	assert.Equal(t, "三上悠亜", preferJapaneseName("三上悠亜"))
	assert.Equal(t, "", preferJapaneseName("  "))
}

func TestHelpersSplitNames(t *testing.T) {
	assert.Equal(t, []string{"一", "二", "三"}, splitNames("一, 二、三"))
	assert.Nil(t, splitNames(""))
	assert.Equal(t, []string{"一"}, splitNames("一 | -"))
}
