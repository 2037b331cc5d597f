package webclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// GetText fetches a page and returns the decoded body as a string.
func (c *Client) GetText(ctx context.Context, url string, opts *RequestOptions) (string, error) {
	resp, err := c.Request(ctx, http.MethodGet, url, opts)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// GetBytes fetches binary content.
func (c *Client) GetBytes(ctx context.Context, url string, opts *RequestOptions) ([]byte, error) {
	resp, err := c.Request(ctx, http.MethodGet, url, opts)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetJSON fetches a URL and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}, opts *RequestOptions) error {
	resp, err := c.Request(ctx, http.MethodGet, url, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode json from %s: %w", url, err)
	}
	return nil
}

// PostText sends a POST and returns the body as a string.
func (c *Client) PostText(ctx context.Context, url string, body []byte, opts *RequestOptions) (string, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	opts.Body = body
	resp, err := c.Request(ctx, http.MethodPost, url, opts)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// PostJSON sends a JSON payload and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out interface{}, opts *RequestOptions) error {
	if opts == nil {
		opts = &RequestOptions{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode json payload: %w", err)
	}
	opts.Body = data
	opts.ContentType = "application/json"
	resp, err := c.Request(ctx, http.MethodPost, url, opts)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode json from %s: %w", url, err)
	}
	return nil
}

// ContentLength issues a HEAD request and returns the Content-Length.
// Returns 0 with no error when the header is absent.
func (c *Client) ContentLength(ctx context.Context, url string, opts *RequestOptions) (int64, error) {
	resp, err := c.Request(ctx, http.MethodHead, url, opts)
	if err != nil {
		return 0, err
	}
	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse Content-Length %q: %w", cl, err)
	}
	return n, nil
}

// FinalURL probes where a URL leads without following redirects past
// the first hop; for a 302 it returns the Location target.
func (c *Client) FinalURL(ctx context.Context, url string, opts *RequestOptions) (string, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	opts.NoRedirect = true
	resp, err := c.Request(ctx, http.MethodGet, url, opts)
	if err != nil {
		return "", err
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		return loc, nil
	}
	return resp.FinalURL, nil
}
