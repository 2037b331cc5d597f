package bypass

import (
	"context"
	"fmt"
	"net/http"
	neturl "net/url"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/webclient"
)

const mirrorMaxRedirects = 8

// finalURLHeader carries the URL the service ended up on after its own
// in-browser redirects.
const finalURLHeader = "X-CF-Bypasser-Final-URL"

// MirrorFetch relays one request through the bypass service: the path
// and query go to the service with X-Hostname naming the real host, and
// redirects are chased here so every hop stays behind the service.
// Cookie-mode coordinators report ErrMirrorUnavailable.
func (c *Coordinator) MirrorFetch(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*webclient.Response, error) {
	if !c.Enabled() || c.mode != ModeMirror {
		return nil, webclient.ErrMirrorUnavailable
	}

	resp, err := c.mirrorWithRedirects(ctx, method, rawURL, headers, body)
	if err == nil {
		return resp, nil
	}
	if method != http.MethodGet {
		return nil, err
	}

	c.logger.Debug("Mirror relay failed, trying rendered HTML fallback",
		zap.String("url", rawURL),
		zap.Error(err))
	return c.mirrorHTMLFallback(ctx, rawURL)
}

func (c *Coordinator) mirrorWithRedirects(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*webclient.Response, error) {
	current := rawURL
	for hop := 0; ; hop++ {
		status, respHeader, respBody, err := c.mirrorOnce(ctx, method, current, headers, body)
		if err != nil {
			return nil, err
		}

		location := respHeader.Get("Location")
		if !isRedirect(status) || location == "" {
			return &webclient.Response{
				StatusCode: status,
				Header:     respHeader,
				Body:       respBody,
				FinalURL:   current,
			}, nil
		}
		if hop >= mirrorMaxRedirects {
			return nil, fmt.Errorf("mirror fetch %s: more than %d redirects", rawURL, mirrorMaxRedirects)
		}

		next, err := resolveLocation(current, location)
		if err != nil {
			return nil, fmt.Errorf("mirror fetch %s: %w", rawURL, err)
		}
		current = next
		// Browsers downgrade the method on these redirects; origins that
		// issue them after a POST expect a GET on the next hop.
		if status == http.StatusMovedPermanently ||
			status == http.StatusFound ||
			status == http.StatusSeeOther {
			method = http.MethodGet
			body = nil
		}
	}
}

// mirrorOnce sends a single hop to the service without following
// anything.
func (c *Coordinator) mirrorOnce(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (int, http.Header, []byte, error) {
	target, err := neturl.Parse(rawURL)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("parse %q: %w", rawURL, err)
	}

	timeout := c.service.callTimeout(ctx)
	if timeout <= 0 {
		return 0, nil, nil, ctx.Err()
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	relayed := c.service.baseURL + target.RequestURI()
	req.SetRequestURI(relayed)
	req.Header.SetMethod(method)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Hostname", target.Host)
	if c.service.proxy != "" {
		req.Header.Set("X-Proxy", c.service.proxy)
	}
	if len(body) > 0 {
		req.SetBody(body)
	}

	if err := c.service.client.DoTimeout(req, resp, timeout); err != nil {
		return 0, nil, nil, fmt.Errorf("relay %s: %w", rawURL, err)
	}

	header := make(http.Header)
	for key, value := range resp.Header.All() {
		header.Add(string(key), string(value))
	}
	return resp.StatusCode(), header, append([]byte(nil), resp.Body()...), nil
}

// mirrorHTMLFallback asks the service to render the page itself and
// hand back the final HTML.
func (c *Coordinator) mirrorHTMLFallback(ctx context.Context, rawURL string) (*webclient.Response, error) {
	endpoint := c.service.baseURL + "/html?url=" + neturl.QueryEscape(rawURL)

	timeout := c.service.callTimeout(ctx)
	if timeout <= 0 {
		return nil, ctx.Err()
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)

	start := time.Now()
	if err := c.service.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("html fallback %s: %w", rawURL, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("html fallback %s: service returned HTTP %d", rawURL, resp.StatusCode())
	}

	header := make(http.Header)
	for key, value := range resp.Header.All() {
		header.Add(string(key), string(value))
	}
	finalURL := header.Get(finalURLHeader)
	if finalURL == "" {
		finalURL = rawURL
	}

	c.logger.Debug("Rendered HTML fallback succeeded",
		zap.String("url", rawURL),
		zap.String("final_url", finalURL),
		zap.Duration("elapsed", time.Since(start)))

	return &webclient.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       append([]byte(nil), resp.Body()...),
		FinalURL:   finalURL,
	}, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveLocation(current, location string) (string, error) {
	base, err := neturl.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", current, err)
	}
	ref, err := neturl.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse redirect %q: %w", location, err)
	}
	return base.ResolveReference(ref).String(), nil
}
