package crawler

import (
	"context"

	"github.com/avmeta/harvester/pkg/types"
)

// Site is one metadata source. The pipeline in Run drives the three
// phases; sites that deviate from the standard flow implement the
// optional interfaces below.
type Site interface {
	// Name identifies the site.
	Name() types.Website
	// BuildSearch returns candidate search URLs, best first. An empty
	// slice means the site addresses detail pages directly, in which
	// case ParseSearch is never called.
	BuildSearch(c *Context) []string
	// ParseSearch extracts detail-page URLs from a search result.
	ParseSearch(c *Context, page *Page) ([]string, error)
	// ParseDetail extracts the record from one detail page.
	ParseDetail(c *Context, page *Page) (*types.CrawlerData, error)
}

// DetailBuilder supplies detail URLs without a search round trip, for
// sites whose detail path embeds the number.
type DetailBuilder interface {
	BuildDetail(c *Context) []string
}

// DetailFetcher overrides how a detail page is fetched, e.g. through
// the headless browser or with extra cookies on specific categories.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, c *Context, url string) (*Page, error)
}

// CategoryMerger combines the records parsed from multiple detail
// pages of one site. Without it the first parsed record wins.
type CategoryMerger interface {
	MergeCategories(results []*types.CrawlerData) *types.CrawlerData
}

// PostProcessor runs after a record is assembled, for trailer probing
// and image fixups.
type PostProcessor interface {
	PostProcess(ctx context.Context, c *Context, data *types.CrawlerData) error
}

// CookieProvider supplies cookies sent with every request to the site,
// e.g. an adult-gate acknowledgement.
type CookieProvider interface {
	Cookies() map[string]string
}
