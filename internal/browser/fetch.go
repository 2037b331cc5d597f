package browser

import (
	"context"
	"fmt"
	neturl "net/url"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// settleDelay gives late XHR-driven DOM updates a moment to land after
// the document is ready.
const settleDelay = 500 * time.Millisecond

// FetchOptions tunes a single rendered fetch.
type FetchOptions struct {
	// Cookies are set for the target's registrable domain before
	// navigation, e.g. an adult-gate acknowledgement.
	Cookies      map[string]string
	WaitSelector string
	UserAgent    string
	Timeout      time.Duration
}

// userAgentOverride builds the CDP action for a custom user agent.
// The override lives in the emulation domain, not network.
func userAgentOverride(ua string) chromedp.Action {
	return emulation.SetUserAgentOverride(ua)
}

// FetchHTML renders a page in a pooled Chromium tab and returns the
// final outer HTML together with the URL the navigation settled on.
func (p *Pool) FetchHTML(ctx context.Context, rawURL string, opts *FetchOptions) (string, string, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}

	u, err := neturl.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", rawURL, err)
	}

	inst, err := p.acquire(ctx)
	if err != nil {
		return "", "", err
	}
	defer p.release(inst)

	tabCtx, tabCancel := chromedp.NewContext(inst.ctx)
	defer tabCancel()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.cfg.NavigateTimeout
	}
	runCtx, runCancel := context.WithTimeout(tabCtx, timeout)
	defer runCancel()

	actions := []chromedp.Action{network.Enable()}
	if opts.UserAgent != "" {
		actions = append(actions, userAgentOverride(opts.UserAgent))
	}
	if len(opts.Cookies) > 0 {
		domain := u.Hostname()
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			for name, value := range opts.Cookies {
				err := network.SetCookie(name, value).
					WithDomain(domain).
					WithPath("/").
					Do(ctx)
				if err != nil {
					return fmt.Errorf("set cookie %s: %w", name, err)
				}
			}
			return nil
		}))
	}

	actions = append(actions,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if opts.WaitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery))
	}

	var html, finalURL string
	actions = append(actions,
		chromedp.Sleep(settleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	start := time.Now()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return "", "", fmt.Errorf("render %s: %w", rawURL, err)
	}

	p.logger.Debug("Rendered page fetched",
		zap.Int("instance_id", inst.id),
		zap.String("url", rawURL),
		zap.String("final_url", finalURL),
		zap.Int("html_size", len(html)),
		zap.Duration("elapsed", time.Since(start)))

	return html, finalURL, nil
}
