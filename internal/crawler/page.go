package crawler

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Page is one fetched document. The goquery parse is lazy and cached;
// JSON endpoints never pay for it.
type Page struct {
	URL      string
	FinalURL string
	Body     []byte
	// Extra carries side data a custom fetcher resolved for its parser,
	// e.g. a trailer URL that lives behind a second request.
	Extra map[string]string

	doc    *goquery.Document
	docErr error
}

// NewPage wraps an already-fetched body, mostly for tests and for
// browser-rendered HTML.
func NewPage(url, finalURL string, body []byte) *Page {
	return &Page{URL: url, FinalURL: finalURL, Body: body}
}

// Document parses the body as HTML once and caches the result.
func (p *Page) Document() (*goquery.Document, error) {
	if p.doc == nil && p.docErr == nil {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
		if err != nil {
			p.docErr = fmt.Errorf("parse html of %s: %w", p.URL, err)
		} else {
			p.doc = doc
		}
	}
	return p.doc, p.docErr
}

// Text returns the raw body as a string.
func (p *Page) Text() string {
	return string(p.Body)
}
