package bypass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/internal/webclient"
)

func newMirrorCoordinator(t *testing.T, serviceURL string) *Coordinator {
	t.Helper()
	cfg := testBypassConfig(serviceURL)
	cfg.Mode = config.BypassModeMirror
	return newTestCoordinator(t, cfg)
}

func TestMirrorFetchRelaysThroughService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dm22/en/abc-123", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("x"))
		assert.Equal(t, "missav.ws", r.Header.Get("X-Hostname"))
		w.Write([]byte("relayed content"))
	}))
	defer srv.Close()

	c := newMirrorCoordinator(t, srv.URL)
	resp, err := c.MirrorFetch(context.Background(), http.MethodGet,
		"https://missav.ws/dm22/en/abc-123?x=1", map[string]string{"Accept": "text/html"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "relayed content", string(resp.Body))
	assert.Equal(t, "https://missav.ws/dm22/en/abc-123?x=1", resp.FinalURL)
}

func TestMirrorFetchFollowsRedirectsDowngradingPOST(t *testing.T) {
	var sawDone bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit":
			assert.Equal(t, http.MethodPost, r.Method)
			w.Header().Set("Location", "/done")
			w.WriteHeader(http.StatusFound)
		case "/done":
			// 302 downgrades the follow-up to GET.
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "missav.ws", r.Header.Get("X-Hostname"))
			sawDone = true
			w.Write([]byte("landed"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newMirrorCoordinator(t, srv.URL)
	resp, err := c.MirrorFetch(context.Background(), http.MethodPost,
		"https://missav.ws/submit", nil, []byte("a=1"))
	require.NoError(t, err)
	assert.True(t, sawDone)
	assert.Equal(t, "landed", string(resp.Body))
	assert.Equal(t, "https://missav.ws/done", resp.FinalURL)
}

func TestMirrorFetchAbortsRedirectLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/loop")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	c := newMirrorCoordinator(t, srv.URL)
	// POST has no rendered-HTML fallback, so the loop error surfaces.
	_, err := c.MirrorFetch(context.Background(), http.MethodPost,
		"https://missav.ws/loop", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirects")
}

func TestMirrorFetchFallsBackToRenderedHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/html" {
			assert.Equal(t, "https://missav.ws/loop", r.URL.Query().Get("url"))
			w.Header().Set(finalURLHeader, "https://missav.ws/dm22/en/abc-123")
			w.Write([]byte("<html>rendered</html>"))
			return
		}
		// Every relayed hop redirects, forcing the fallback.
		w.Header().Set("Location", "/loop")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	c := newMirrorCoordinator(t, srv.URL)
	resp, err := c.MirrorFetch(context.Background(), http.MethodGet,
		"https://missav.ws/loop", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "<html>rendered</html>", string(resp.Body))
	assert.Equal(t, "https://missav.ws/dm22/en/abc-123", resp.FinalURL)
}

func TestMirrorFetchUnavailableInCookieMode(t *testing.T) {
	c := newTestCoordinator(t, testBypassConfig("http://127.0.0.1:1"))
	_, err := c.MirrorFetch(context.Background(), http.MethodGet,
		"https://missav.ws/abc", nil, nil)
	assert.ErrorIs(t, err, webclient.ErrMirrorUnavailable)
}
