package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/internal/ratelimit"
	"github.com/avmeta/harvester/internal/webclient"
	"github.com/avmeta/harvester/pkg/types"
)

func newTestContext(t *testing.T, number string) *Context {
	t.Helper()
	client, err := webclient.New(
		webclient.Config{Timeout: 5 * time.Second, Retry: 1},
		ratelimit.NewRegistry(ratelimit.DefaultConfig()),
		nil, nil, zap.NewNop())
	require.NoError(t, err)
	return &Context{
		LookupID: "test",
		Input:    types.LookupInput{Number: number},
		Client:   client,
		Logger:   zap.NewNop(),
		Config:   config.SitesConfig{Language: "jp"},
	}
}

// stubSite walks the standard search→detail flow against an httptest
// server.
type stubSite struct {
	base         string
	searchPaths  []string
	parseSearch  func(page *Page) ([]string, error)
	parseDetail  func(page *Page) (*types.CrawlerData, error)
	postProcess  func(data *types.CrawlerData) error
	mergeResults func(results []*types.CrawlerData) *types.CrawlerData
}

func (s *stubSite) Name() types.Website { return types.SiteMissAV }

func (s *stubSite) BuildSearch(c *Context) []string {
	urls := make([]string, 0, len(s.searchPaths))
	for _, p := range s.searchPaths {
		urls = append(urls, s.base+p)
	}
	return urls
}

func (s *stubSite) ParseSearch(c *Context, page *Page) ([]string, error) {
	return s.parseSearch(page)
}

func (s *stubSite) ParseDetail(c *Context, page *Page) (*types.CrawlerData, error) {
	return s.parseDetail(page)
}

// mergingSite adds CategoryMerger on top of stubSite.
type mergingSite struct{ stubSite }

func (s *mergingSite) MergeCategories(results []*types.CrawlerData) *types.CrawlerData {
	return s.mergeResults(results)
}

// processingSite adds PostProcessor on top of stubSite.
type processingSite struct{ stubSite }

func (s *processingSite) PostProcess(ctx context.Context, c *Context, data *types.CrawlerData) error {
	return s.postProcess(data)
}

func TestRunSearchThenDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			w.Write([]byte("search results"))
		case "/detail/abc-123":
			w.Write([]byte("detail page"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	site := &stubSite{
		base:        srv.URL,
		searchPaths: []string{"/search"},
		parseSearch: func(page *Page) ([]string, error) {
			assert.Equal(t, "search results", page.Text())
			return []string{srv.URL + "/detail/abc-123"}, nil
		},
		parseDetail: func(page *Page) (*types.CrawlerData, error) {
			assert.Equal(t, "detail page", page.Text())
			return &types.CrawlerData{Number: "ABC-123", Title: "t"}, nil
		},
	}

	data, err := Run(context.Background(), newTestContext(t, "ABC-123"), site)
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", data.Number)
	assert.Equal(t, types.SiteMissAV, data.Website)
	assert.Equal(t, srv.URL+"/detail/abc-123", data.Source)
}

func TestRunFirstProductiveCandidateWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	site := &stubSite{
		base:        srv.URL,
		searchPaths: []string{"/empty", "/hit", "/never"},
		parseSearch: func(page *Page) ([]string, error) {
			if page.Text() == "/hit" {
				return []string{srv.URL + "/detail"}, nil
			}
			if page.Text() == "/never" {
				t.Fatal("candidates after the first hit must not be fetched")
			}
			return nil, nil
		},
		parseDetail: func(page *Page) (*types.CrawlerData, error) {
			return &types.CrawlerData{Number: "ABC-123"}, nil
		},
	}

	_, err := Run(context.Background(), newTestContext(t, "ABC-123"), site)
	require.NoError(t, err)
}

func TestRunNotFoundWhenNothingMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("empty"))
	}))
	defer srv.Close()

	site := &stubSite{
		base:        srv.URL,
		searchPaths: []string{"/search"},
		parseSearch: func(page *Page) ([]string, error) { return nil, nil },
		parseDetail: func(page *Page) (*types.CrawlerData, error) { return nil, nil },
	}

	_, err := Run(context.Background(), newTestContext(t, "ABC-123"), site)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunAppointURLSkipsSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/appointed", r.URL.Path)
		w.Write([]byte("appointed detail"))
	}))
	defer srv.Close()

	site := &stubSite{
		base:        srv.URL,
		searchPaths: []string{"/search"},
		parseSearch: func(page *Page) ([]string, error) {
			t.Fatal("search must not run with an appointed URL")
			return nil, nil
		},
		parseDetail: func(page *Page) (*types.CrawlerData, error) {
			return &types.CrawlerData{Number: "ABC-123"}, nil
		},
	}

	c := newTestContext(t, "ABC-123")
	c.Input.AppointURL = srv.URL + "/appointed"
	data, err := Run(context.Background(), c, site)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/appointed", data.Source)
}

func TestRunMismatchOutranksOtherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	site := &stubSite{
		base:        srv.URL,
		searchPaths: []string{"/search"},
		parseSearch: func(page *Page) ([]string, error) {
			return []string{srv.URL + "/d1", srv.URL + "/d2"}, nil
		},
		parseDetail: func(page *Page) (*types.CrawlerData, error) {
			if page.Text() == "/d1" {
				return nil, Parse(types.SiteMissAV, "bad markup")
			}
			return nil, Mismatch(types.SiteMissAV, "ABC-123", "XYZ-999")
		},
	}

	_, err := Run(context.Background(), newTestContext(t, "ABC-123"), site)
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestRunMergesCategories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	site := &mergingSite{stubSite{
		base:        srv.URL,
		searchPaths: []string{"/search"},
		parseSearch: func(page *Page) ([]string, error) {
			return []string{srv.URL + "/d1", srv.URL + "/d2"}, nil
		},
		parseDetail: func(page *Page) (*types.CrawlerData, error) {
			return &types.CrawlerData{Number: "ABC-123", Title: page.Text()}, nil
		},
		mergeResults: func(results []*types.CrawlerData) *types.CrawlerData {
			require.Len(t, results, 2)
			return results[1]
		},
	}}

	data, err := Run(context.Background(), newTestContext(t, "ABC-123"), site)
	require.NoError(t, err)
	assert.Equal(t, "/d2", data.Title)
}

func TestRunPostProcessFailureIsNonFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page"))
	}))
	defer srv.Close()

	site := &processingSite{stubSite{
		base:        srv.URL,
		searchPaths: []string{"/search"},
		parseSearch: func(page *Page) ([]string, error) {
			return []string{srv.URL + "/detail"}, nil
		},
		parseDetail: func(page *Page) (*types.CrawlerData, error) {
			return &types.CrawlerData{Number: "ABC-123"}, nil
		},
		postProcess: func(data *types.CrawlerData) error {
			return errors.New("trailer probe broke")
		},
	}}

	data, err := Run(context.Background(), newTestContext(t, "ABC-123"), site)
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", data.Number)
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, Permanent(NotFound(types.SiteDMM, "ABC-123")))
	assert.True(t, Permanent(Mismatch(types.SiteDMM, "a", "b")))
	assert.False(t, Permanent(Parse(types.SiteDMM, "markup moved")))
	assert.False(t, Permanent(Network(types.SiteDMM, errors.New("refused"))))
}
