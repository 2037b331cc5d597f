package refiner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/ratelimit"
	"github.com/avmeta/harvester/internal/webclient"
)

func newTestRefiner(t *testing.T) *Refiner {
	t.Helper()
	client, err := webclient.New(
		webclient.Config{Timeout: 5 * time.Second, Retry: 1},
		ratelimit.NewRegistry(ratelimit.DefaultConfig()),
		nil, nil, zap.NewNop())
	require.NoError(t, err)
	return New(client, zap.NewNop())
}

func TestTrailerRank(t *testing.T) {
	tests := []struct {
		url  string
		rank int
	}{
		{"https://cc3001.dmm.co.jp/litevideo/freepv/s/ssi/ssis00497/ssis00497_sm_w.mp4", 1},
		{"https://cc3001.dmm.co.jp/litevideo/freepv/s/ssi/ssis00497/ssis00497_hhb_w.mp4", 7},
		{"https://cc3001.dmm.co.jp/litevideo/freepv/s/ssi/ssis00497/ssis00497_4k_w.mp4", 8},
		{"https://cc3001.dmm.co.jp/pv/abc/defmhb.mp4", 6},
		{"https://example.com/trailer_hmbs_w.mp4", 5},
		{"https://example.com/playlist.m3u8", 0},
		{"https://example.com/video.mp4", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.rank, TrailerRank(tt.url), tt.url)
	}
}

func TestPickBetterTrailer(t *testing.T) {
	sm := "https://x/a_sm_w.mp4"
	hhb := "https://x/a_hhb_w.mp4"

	assert.Equal(t, hhb, PickBetterTrailer(sm, hhb))
	assert.Equal(t, hhb, PickBetterTrailer(hhb, sm))
	assert.Equal(t, sm, PickBetterTrailer(sm, "https://x/playlist.m3u8"))
	assert.Equal(t, sm, PickBetterTrailer("", sm))
	assert.Equal(t, hhb, BestTrailer([]string{sm, hhb, ""}))
}

func TestIsHLSPlaylist(t *testing.T) {
	assert.True(t, IsHLSPlaylist("https://x/pv/playlist.m3u8"))
	assert.True(t, IsHLSPlaylist("https://x/PLAYLIST.M3U8?x=1"))
	assert.False(t, IsHLSPlaylist("https://x/a_sm_w.mp4"))
}

func TestCheckURLAcceptsHealthyImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "20000")
	}))
	defer srv.Close()

	finalURL, ok := newTestRefiner(t).CheckURL(context.Background(), srv.URL+"/cover.jpg")
	require.True(t, ok)
	assert.Equal(t, srv.URL+"/cover.jpg", finalURL)
}

func TestCheckURLRejectsTinyImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "512")
	}))
	defer srv.Close()

	_, ok := newTestRefiner(t).CheckURL(context.Background(), srv.URL+"/pixel.jpg")
	assert.False(t, ok)
}

func TestCheckURLRejectsPlaceholderRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cover.jpg" {
			http.Redirect(w, r, "/now_printing.jpg", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "20000")
	}))
	defer srv.Close()

	_, ok := newTestRefiner(t).CheckURL(context.Background(), srv.URL+"/cover.jpg")
	assert.False(t, ok)
}

func TestCheckURLFallsBackToRangedGet(t *testing.T) {
	var sawRange bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sawRange = r.Header.Get("Range") == "bytes=0-0"
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Range", "bytes 0-0/30000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0xff})
	}))
	defer srv.Close()

	_, ok := newTestRefiner(t).CheckURL(context.Background(), srv.URL+"/cover.jpg")
	require.True(t, ok)
	assert.True(t, sawRange)
}

func TestValidateTrailer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good.mp4":
			w.Header().Set("Content-Type", "video/mp4")
		case "/gone.mp4":
			w.WriteHeader(http.StatusNotFound)
		case "/errorpage.mp4":
			w.Header().Set("Content-Type", "text/html")
		}
	}))
	defer srv.Close()

	r := newTestRefiner(t)
	assert.Equal(t, srv.URL+"/good.mp4", r.ValidateTrailer(context.Background(), srv.URL+"/good.mp4", nil))
	assert.Empty(t, r.ValidateTrailer(context.Background(), srv.URL+"/gone.mp4", nil))
	assert.Empty(t, r.ValidateTrailer(context.Background(), srv.URL+"/errorpage.mp4", nil))
	assert.Empty(t, r.ValidateTrailer(context.Background(), "https://x/playlist.m3u8", nil))
}

func TestContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "180000")
	}))
	defer srv.Close()

	assert.Equal(t, int64(180000), newTestRefiner(t).ContentLength(context.Background(), srv.URL+"/pl.jpg"))
}

func TestIsTrustedImageHost(t *testing.T) {
	assert.True(t, isTrustedImageHost("https://pics.dmm.co.jp/x.jpg"))
	assert.True(t, isTrustedImageHost("https://www.javbus.com/x.jpg"))
	assert.False(t, isTrustedImageHost("https://random.example/x.jpg"))
}
