package crawler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/events"
	"github.com/avmeta/harvester/internal/webclient"
	"github.com/avmeta/harvester/pkg/types"
)

// Run executes the standard lookup pipeline against one site: locate
// detail pages, parse them, merge per-category records, post-process.
func Run(ctx context.Context, c *Context, site Site) (*types.CrawlerData, error) {
	start := time.Now()
	name := site.Name()

	detailURLs, err := locateDetails(ctx, c, site)
	if err != nil {
		c.Emit(name, events.KindFail, "lookup failed: %v", err)
		return nil, err
	}

	results, lastErr := parseDetails(ctx, c, site, detailURLs)
	if len(results) == 0 {
		if lastErr == nil {
			lastErr = NotFound(name, c.Input.Number)
		}
		c.Emit(name, events.KindFail, "no detail page parsed: %v", lastErr)
		return nil, lastErr
	}

	var data *types.CrawlerData
	if merger, ok := site.(CategoryMerger); ok && len(results) > 1 {
		data = merger.MergeCategories(results)
	} else {
		data = results[0]
	}
	data.Website = name
	if data.Source == "" && len(detailURLs) > 0 {
		data.Source = detailURLs[0]
	}

	if pp, ok := site.(PostProcessor); ok {
		if err := pp.PostProcess(ctx, c, data); err != nil {
			// Post-processing polishes trailers and images; its failure
			// does not invalidate the record.
			c.Logger.Warn("Post-processing failed",
				zap.String("site", string(name)),
				zap.String("number", c.Input.Number),
				zap.Error(err))
		}
	}

	c.Emit(name, events.KindOK, "found %q in %s", data.Title, time.Since(start).Round(time.Millisecond))
	return data, nil
}

// locateDetails finds the detail URLs, either directly or via the
// site's search candidates. The first candidate that yields any detail
// URL wins.
func locateDetails(ctx context.Context, c *Context, site Site) ([]string, error) {
	name := site.Name()

	if c.Input.AppointURL != "" {
		return []string{c.Input.AppointURL}, nil
	}
	if db, ok := site.(DetailBuilder); ok {
		if urls := db.BuildDetail(c); len(urls) > 0 {
			return urls, nil
		}
	}

	candidates := site.BuildSearch(c)
	if len(candidates) == 0 {
		return nil, NotFound(name, c.Input.Number)
	}

	var lastErr error
	for _, searchURL := range candidates {
		c.Emit(name, events.KindSearch, "searching %s", searchURL)

		page, err := FetchPage(ctx, c, site, searchURL)
		if err != nil {
			lastErr = err
			continue
		}
		urls, err := site.ParseSearch(c, page)
		if err != nil {
			lastErr = err
			continue
		}
		if len(urls) > 0 {
			return urls, nil
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, NotFound(name, c.Input.Number)
}

// parseDetails fetches and parses every detail URL, keeping whatever
// succeeds. A Mismatch outranks other errors when nothing parses; it
// carries the most information.
func parseDetails(ctx context.Context, c *Context, site Site, urls []string) ([]*types.CrawlerData, error) {
	name := site.Name()
	fetcher, hasFetcher := site.(DetailFetcher)

	var results []*types.CrawlerData
	var lastErr error
	for _, detailURL := range urls {
		c.Emit(name, events.KindFetch, "fetching %s", detailURL)

		var page *Page
		var err error
		if hasFetcher {
			page, err = fetcher.FetchDetail(ctx, c, detailURL)
		} else {
			page, err = FetchPage(ctx, c, site, detailURL)
		}
		if err != nil {
			lastErr = err
			continue
		}

		data, err := site.ParseDetail(c, page)
		if err != nil {
			if errors.Is(err, ErrMismatch) || lastErr == nil {
				lastErr = err
			}
			continue
		}
		if data.Source == "" {
			data.Source = page.FinalURL
		}
		results = append(results, data)
	}
	return results, lastErr
}

// FetchPage performs the default GET for a site, carrying its cookies.
func FetchPage(ctx context.Context, c *Context, site Site, url string) (*Page, error) {
	opts := &webclient.RequestOptions{}
	if cp, ok := site.(CookieProvider); ok {
		opts.Cookies = cp.Cookies()
	}
	resp, err := c.Client.Request(ctx, http.MethodGet, url, opts)
	if err != nil {
		return nil, Network(site.Name(), err)
	}
	return &Page{URL: url, FinalURL: resp.FinalURL, Body: resp.Body}, nil
}
