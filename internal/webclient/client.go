// Package webclient implements the resilient HTTP layer used by every
// crawler: per-host pacing, retry with backoff, Cloudflare challenge
// detection and bypass-binding application.
package webclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/semaphore"

	"github.com/avmeta/harvester/internal/metrics"
	"github.com/avmeta/harvester/internal/ratelimit"
)

// DefaultUserAgent is sent when neither the caller nor a bypass binding
// provides one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const (
	// bypassRoundsPerCall caps challenge-triggered bypass attempts
	// within one logical request.
	bypassRoundsPerCall = 2
	// retrySlotsPerHost bounds concurrent retry traffic against a host
	// that is already struggling.
	retrySlotsPerHost = 2

	retrySleepJitter       = 0.4
	afterBypassBaseDelay   = 1.2
	afterBypassSleepJitter = 1.3
	maxResponseBodyBytes   = 64 << 20
)

// BypassProvider is the Cloudflare bypass coordinator seen from the
// client. Implemented by the bypass package; nil disables bypassing.
type BypassProvider interface {
	// Enabled reports whether a bypass service is configured.
	Enabled() bool
	// Binding returns the cached cookie and User-Agent binding for a host.
	Binding(host string) (cookies map[string]string, userAgent string, ok bool)
	// Refresh obtains a fresh binding, coordinating concurrent callers.
	Refresh(ctx context.Context, host, targetURL string, force bool) (cookies map[string]string, userAgent string, err error)
	// NoteChallenge records a challenge hit against a host.
	NoteChallenge(host string)
	// ResetChallenges clears the challenge counter after a success.
	ResetChallenges(host string)
	// ClearBinding drops the host's cached binding.
	ClearBinding(host string)
}

// ErrMirrorUnavailable is returned by MirrorFetch when the coordinator
// is not operating in mirror mode.
var ErrMirrorUnavailable = errors.New("mirror fetch unavailable")

// MirrorFetcher is implemented by bypass coordinators that can relay a
// whole request through the bypass service instead of minting cookies.
type MirrorFetcher interface {
	MirrorFetch(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*Response, error)
}

// Config controls the client.
type Config struct {
	Timeout   time.Duration
	Retry     int
	Proxy     string
	UserAgent string
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// RequestOptions tunes a single request. The zero value follows
// redirects, uses the proxy and allows bypassing.
type RequestOptions struct {
	Headers       map[string]string
	Cookies       map[string]string
	Body          []byte
	ContentType   string
	Timeout       time.Duration
	NoRedirect    bool
	NoProxy       bool
	DisableBypass bool
}

// Client is the shared scraping HTTP client. Safe for concurrent use.
type Client struct {
	config   Config
	limiters *ratelimit.Registry
	bypass   BypassProvider
	logger   *zap.Logger
	metrics  *metrics.Metrics

	jar             http.CookieJar
	proxyTransport  *http.Transport
	directTransport *http.Transport

	slotsMu   sync.Mutex
	hostSlots map[string]*semaphore.Weighted

	randMu sync.Mutex
	rand   *rand.Rand
}

// New creates a client. limiters is required; bypass and m may be nil.
func New(config Config, limiters *ratelimit.Registry, bypass BypassProvider, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if limiters == nil {
		return nil, fmt.Errorf("limiter registry is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config.Retry < 1 {
		config.Retry = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	direct := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		config:          config,
		limiters:        limiters,
		bypass:          bypass,
		logger:          logger,
		metrics:         m,
		jar:             jar,
		directTransport: direct,
		hostSlots:       make(map[string]*semaphore.Weighted),
		rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if config.Proxy != "" {
		proxyURL, err := neturl.Parse(config.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", config.Proxy, err)
		}
		c.proxyTransport = &http.Transport{
			Proxy:               http.ProxyURL(proxyURL),
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return c, nil
}

// Request performs one logical request with pacing, retries and bypass
// handling. Body is fully read before returning.
func (c *Client) Request(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	url, sanitized := SanitizeURL(rawURL)
	if sanitized {
		c.logger.Warn("Sanitized polluted URL",
			zap.String("original", rawURL),
			zap.String("cleaned", url))
	}
	u, err := neturl.Parse(url)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", url, err)
	}
	host := u.Hostname()

	headers := make(map[string]string, len(opts.Headers)+2)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	injectReferer(url, headers)

	bypassActive := c.bypass != nil && c.bypass.Enabled() && !opts.DisableBypass

	var bindingCookies map[string]string
	if bypassActive && host != "" {
		if cookies, ua, ok := c.bypass.Binding(host); ok {
			bindingCookies = cookies
			if ua != "" {
				setHeaderCanonical(headers, "User-Agent", ua)
			}
			c.logger.Debug("Using cached bypass binding", zap.String("host", host))
		}
	}

	var lastErr error
	bypassRound := 0
	forceRefreshUsed := false

	for attempt := 0; attempt < c.config.Retry; attempt++ {
		retry := false
		afterBypass := false

		if err := c.limiters.Wait(ctx, host); err != nil {
			return nil, fmt.Errorf("rate limit wait for %s: %w", host, err)
		}

		resp, err := c.do(ctx, method, url, headers, mergeCookies(opts.Cookies, bindingCookies), opts)
		switch {
		case err != nil:
			lastErr = err
			retry = true
			c.recordRetry(host, "network")

		case bypassActive && host != "" && isCFChallenge(resp.StatusCode, resp.Header, resp.Body):
			c.bypass.NoteChallenge(host)
			if c.metrics != nil {
				c.metrics.RecordChallenge(host)
			}
			c.logger.Warn("Cloudflare challenge page detected",
				zap.String("host", host),
				zap.String("method", method),
				zap.String("url", url))

			if mresp, handled, merr := c.tryMirror(ctx, method, url, headers, opts); handled {
				if merr == nil {
					c.bypass.ResetChallenges(host)
					return mresp, nil
				}
				lastErr = fmt.Errorf("mirror fetch after challenge: %w", merr)
				break
			}

			if bypassRound >= bypassRoundsPerCall {
				lastErr = fmt.Errorf("cloudflare challenge persisted after %d bypass rounds", bypassRoundsPerCall)
				c.bypass.ClearBinding(host)
				break
			}

			force := bypassRound > 0 && !forceRefreshUsed
			if force {
				c.bypass.ClearBinding(host)
			}
			cookies, ua, berr := c.bypass.Refresh(ctx, host, url, force)
			bypassRound++
			if force {
				forceRefreshUsed = true
			}

			if len(cookies) > 0 {
				bindingCookies = cookies
				if ua != "" {
					setHeaderCanonical(headers, "User-Agent", ua)
				}
				lastErr = fmt.Errorf("cloudflare challenge page")
				retry = attempt < c.config.Retry-1
				afterBypass = true
				c.recordRetry(host, "cf_challenge")
			} else {
				lastErr = fmt.Errorf("cloudflare challenge and bypass failed: %w", berr)
				retry = attempt < c.config.Retry-1 && bypassRound < bypassRoundsPerCall
			}

		case resp.StatusCode >= 300 && !(resp.StatusCode == http.StatusFound && resp.Header.Get("Location") != ""):
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			retry = retryableStatus(resp.StatusCode, bypassActive)
			if retry {
				c.recordRetry(host, fmt.Sprintf("http_%d", resp.StatusCode))
			}

		default:
			if bypassActive && host != "" {
				c.bypass.ResetChallenges(host)
			}
			return resp, nil
		}

		if !retry {
			break
		}
		if attempt < c.config.Retry-1 {
			sleep := c.retrySleep(attempt, afterBypass)
			c.logger.Debug("Retrying request",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("sleep", sleep),
				zap.Error(lastErr))
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("%s %s failed: %w", method, url, lastErr)
}

// tryMirror relays the request through a mirror-mode coordinator.
// handled is false when the coordinator runs in cookie mode, in which
// case the normal refresh path takes over.
func (c *Client) tryMirror(ctx context.Context, method, url string, headers map[string]string, opts *RequestOptions) (*Response, bool, error) {
	mf, ok := c.bypass.(MirrorFetcher)
	if !ok {
		return nil, false, nil
	}
	resp, err := mf.MirrorFetch(ctx, method, url, headers, opts.Body)
	if errors.Is(err, ErrMirrorUnavailable) {
		return nil, false, nil
	}
	return resp, true, err
}

// do executes exactly one attempt.
func (c *Client) do(ctx context.Context, method, url string, headers, cookies map[string]string, opts *RequestOptions) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	httpClient := &http.Client{
		Transport: c.transport(opts.NoProxy),
		Jar:       c.jar,
	}
	if opts.NoRedirect {
		httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	host := req.URL.Hostname()
	slot := c.hostSlot(host)
	if err := slot.Acquire(reqCtx, 1); err != nil {
		return nil, fmt.Errorf("host retry slot for %s: %w", host, err)
	}
	defer slot.Release(1)

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordRequest(host, resp.StatusCode, time.Since(start))
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		FinalURL:   finalURL,
	}, nil
}

func (c *Client) transport(noProxy bool) *http.Transport {
	if c.proxyTransport != nil && !noProxy {
		return c.proxyTransport
	}
	return c.directTransport
}

func (c *Client) hostSlot(host string) *semaphore.Weighted {
	c.slotsMu.Lock()
	defer c.slotsMu.Unlock()
	if s, ok := c.hostSlots[host]; ok {
		return s
	}
	s := semaphore.NewWeighted(retrySlotsPerHost)
	c.hostSlots[host] = s
	return s
}

// retrySleep computes the backoff before the next attempt. After a
// successful bypass refresh the next try happens quickly; the fresh
// clearance cookie ages fast.
func (c *Client) retrySleep(attempt int, afterBypass bool) time.Duration {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	if afterBypass {
		return time.Duration((afterBypassBaseDelay + c.rand.Float64()*afterBypassSleepJitter) * float64(time.Second))
	}
	base := float64(attempt*3 + 2)
	return time.Duration((base + c.rand.Float64()*retrySleepJitter) * float64(time.Second))
}

func (c *Client) recordRetry(host, reason string) {
	if c.metrics != nil {
		c.metrics.RecordRetry(host, reason)
	}
}

// retryableStatus partitions HTTP failures into transient and terminal.
// 403 is treated as transient only when no bypass coordinator will
// handle it as a challenge.
func retryableStatus(status int, bypassActive bool) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case http.StatusForbidden:
		return !bypassActive
	}
	return false
}

func mergeCookies(base, binding map[string]string) map[string]string {
	if len(base) == 0 && len(binding) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(binding))
	for k, v := range base {
		out[k] = v
	}
	// Binding cookies win; a stale caller cf_clearance would poison the
	// refreshed one.
	for k, v := range binding {
		out[k] = v
	}
	return out
}

// setHeaderCanonical replaces a header key case-insensitively.
func setHeaderCanonical(headers map[string]string, key, value string) {
	lower := strings.ToLower(key)
	for k := range headers {
		if strings.ToLower(k) == lower {
			delete(headers, k)
		}
	}
	headers[key] = value
}
