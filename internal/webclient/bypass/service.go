package bypass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const serviceCallRetries = 2

// serviceClient talks to the external CF bypass service over its small
// HTTP API.
type serviceClient struct {
	baseURL string
	proxy   string
	timeout time.Duration
	client  *fasthttp.Client
	logger  *zap.Logger
}

func newServiceClient(baseURL, proxy string, timeout time.Duration, logger *zap.Logger) *serviceClient {
	return &serviceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		proxy:   proxy,
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		logger: logger,
	}
}

// callTimeout clamps the configured timeout to the context deadline.
func (sc *serviceClient) callTimeout(ctx context.Context) time.Duration {
	timeout := sc.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

// RefreshCache asks the service to re-solve the challenge for a target.
func (sc *serviceClient) RefreshCache(ctx context.Context, targetURL string) error {
	endpoint := sc.baseURL + "/cache/refresh?url=" + neturl.QueryEscape(targetURL)
	_, err := sc.call(ctx, fasthttp.MethodPost, endpoint)
	if err != nil {
		return fmt.Errorf("cache refresh for %s: %w", targetURL, err)
	}
	return nil
}

// FetchCookies retrieves the solved clearance cookies for a target. A
// payload without cf_clearance is treated as a miss.
func (sc *serviceClient) FetchCookies(ctx context.Context, targetURL string) (map[string]string, string, error) {
	endpoint := sc.baseURL + "/cookies?url=" + neturl.QueryEscape(targetURL)
	body, err := sc.call(ctx, fasthttp.MethodGet, endpoint)
	if err != nil {
		return nil, "", fmt.Errorf("fetch cookies for %s: %w", targetURL, err)
	}

	cookies, userAgent, err := parseClearancePayload(body)
	if err != nil {
		return nil, "", fmt.Errorf("parse cookies payload for %s: %w", targetURL, err)
	}
	if cookies["cf_clearance"] == "" {
		return nil, "", fmt.Errorf("no cf_clearance in payload for %s", targetURL)
	}
	return cookies, userAgent, nil
}

// call performs one service API call with a small in-call retry. The
// service occasionally drops a request while its browser pool recycles.
func (sc *serviceClient) call(ctx context.Context, method, endpoint string) ([]byte, error) {
	timeout := sc.callTimeout(ctx)
	if timeout <= 0 {
		return nil, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= serviceCallRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := sc.doOnce(method, endpoint, timeout)
		if err == nil {
			return body, nil
		}
		lastErr = err
		sc.logger.Debug("Bypass service call failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func (sc *serviceClient) doOnce(method, endpoint string, timeout time.Duration) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if sc.proxy != "" {
		req.Header.Set("X-Proxy", sc.proxy)
	}

	if err := sc.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("service returned HTTP %d", resp.StatusCode())
	}
	return append([]byte(nil), resp.Body()...), nil
}

// parseClearancePayload extracts cookies and the solving browser's
// User-Agent from a service response. Service versions differ in shape:
// the interesting object may sit at the top level or nested under
// data, result or payload, cookies may be a map or a list of
// {name, value} objects, and the UA hides under several key spellings.
func parseClearancePayload(body []byte) (map[string]string, string, error) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, "", fmt.Errorf("unmarshal payload: %w", err)
	}

	candidates := []map[string]any{root}
	for _, key := range []string{"data", "result", "payload"} {
		if nested, ok := root[key].(map[string]any); ok {
			candidates = append(candidates, nested)
		}
	}

	var cookies map[string]string
	var userAgent string
	for _, obj := range candidates {
		if cookies == nil {
			cookies = extractCookies(obj["cookies"])
		}
		if userAgent == "" {
			userAgent = extractUserAgent(obj)
		}
	}
	if cookies == nil {
		return nil, "", fmt.Errorf("no cookies object in payload")
	}
	return cookies, userAgent, nil
}

func extractCookies(raw any) map[string]string {
	switch v := raw.(type) {
	case map[string]any:
		out := make(map[string]string, len(v))
		for name, value := range v {
			if s, ok := value.(string); ok {
				out[name] = s
			}
		}
		if len(out) > 0 {
			return out
		}
	case []any:
		out := make(map[string]string, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := obj["name"].(string)
			value, _ := obj["value"].(string)
			if name != "" {
				out[name] = value
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

var userAgentKeys = []string{"user_agent", "userAgent", "ua", "browser_user_agent", "browserUserAgent"}

func extractUserAgent(obj map[string]any) string {
	for _, key := range userAgentKeys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	for _, key := range []string{"headers", "request_headers", "requestHeaders"} {
		headers, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		for name, value := range headers {
			if strings.EqualFold(name, "user-agent") {
				if s, ok := value.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}
