// Package bypass coordinates an external Cloudflare bypass service:
// it mints clearance cookies bound to the solving browser's User-Agent,
// deduplicates concurrent refreshes per host and throttles how often
// the service may be asked to re-solve a challenge.
package bypass

import (
	"context"
	"fmt"
	neturl "net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/internal/metrics"
)

// Mode selects how the coordinator defeats challenges.
type Mode string

const (
	// ModeCookies fetches clearance cookies and replays them on direct
	// requests.
	ModeCookies Mode = config.BypassModeCookies
	// ModeMirror relays whole requests through the bypass service.
	ModeMirror Mode = config.BypassModeMirror
)

// autoForceChallengeHits escalates to a forced re-solve once a host has
// served this many challenges against the current binding.
const autoForceChallengeHits = 2

// Coordinator implements webclient.BypassProvider.
type Coordinator struct {
	enabled bool
	mode    Mode

	reuseWindow      time.Duration
	forceMinInterval time.Duration
	failureCooldown  time.Duration
	minCallInterval  time.Duration
	bindingTTL       time.Duration

	service  *serviceClient
	bindings *bindingCache
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu    sync.Mutex
	hosts map[string]*hostState
}

// hostState tracks one origin host. flightMu serializes refreshes so a
// burst of challenged requests yields one service call; dataMu guards
// the fields and is never held across I/O.
type hostState struct {
	flightMu sync.Mutex

	dataMu        sync.Mutex
	cookies       map[string]string
	userAgent     string
	lastRefresh   time.Time
	lastCall      time.Time
	challengeHits int
}

// New creates a coordinator. m may be nil.
func New(cfg config.BypassConfig, m *metrics.Metrics, logger *zap.Logger) (*Coordinator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Enabled && cfg.URL == "" {
		return nil, fmt.Errorf("bypass enabled without a service url")
	}

	mode := Mode(cfg.Mode)
	if mode == "" {
		mode = ModeCookies
	}

	c := &Coordinator{
		enabled:          cfg.Enabled,
		mode:             mode,
		reuseWindow:      time.Duration(cfg.ReuseWindow),
		forceMinInterval: time.Duration(cfg.ForceMinInterval),
		failureCooldown:  time.Duration(cfg.FailureCooldown),
		minCallInterval:  time.Duration(cfg.MinCallInterval),
		bindingTTL:       time.Duration(cfg.BindingTTL),
		bindings:         newBindingCache(time.Duration(cfg.BindingTTL), cfg.PerHostBindings, cfg.TotalBindings),
		metrics:          m,
		logger:           logger,
		hosts:            make(map[string]*hostState),
	}
	if cfg.Enabled {
		c.service = newServiceClient(cfg.URL, cfg.Proxy, time.Duration(cfg.CallTimeout), logger)
	}
	return c, nil
}

// Enabled reports whether a bypass service is configured.
func (c *Coordinator) Enabled() bool { return c != nil && c.enabled }

// Binding returns the cached cookies and User-Agent for a host.
func (c *Coordinator) Binding(host string) (map[string]string, string, bool) {
	if !c.Enabled() || host == "" {
		return nil, "", false
	}

	hs := c.host(host)
	hs.dataMu.Lock()
	defer hs.dataMu.Unlock()

	if len(hs.cookies) == 0 {
		return nil, "", false
	}
	if c.bindingTTL > 0 && time.Since(hs.lastRefresh) > c.bindingTTL {
		hs.cookies = nil
		hs.userAgent = ""
		return nil, "", false
	}

	cookies := make(map[string]string, len(hs.cookies))
	for k, v := range hs.cookies {
		cookies[k] = v
	}
	userAgent := hs.userAgent
	if userAgent == "" {
		userAgent = c.bindings.Resolve(host, cookies)
	}
	return cookies, userAgent, true
}

// Refresh obtains clearance cookies for a host, reusing a recent result
// when one exists. Concurrent callers for the same host wait for the
// first refresh instead of stacking service calls.
func (c *Coordinator) Refresh(ctx context.Context, host, targetURL string, force bool) (map[string]string, string, error) {
	if !c.Enabled() {
		return nil, "", fmt.Errorf("bypass service not configured")
	}
	if c.mode != ModeCookies {
		return nil, "", fmt.Errorf("cookie refresh unavailable in %s mode", c.mode)
	}
	if host == "" {
		return nil, "", fmt.Errorf("empty host")
	}

	hs := c.host(host)
	hs.flightMu.Lock()
	defer hs.flightMu.Unlock()

	now := time.Now()

	hs.dataMu.Lock()
	cookies := hs.cookies
	userAgent := hs.userAgent
	lastRefresh := hs.lastRefresh
	lastCall := hs.lastCall
	hits := hs.challengeHits
	hs.dataMu.Unlock()

	cached := len(cookies) > 0

	// A refresh that just completed, typically by the caller we queued
	// behind, is good enough.
	if cached && !force && !lastRefresh.IsZero() && now.Sub(lastRefresh) <= c.reuseWindow {
		c.logger.Debug("Reusing just-refreshed binding", zap.String("host", host))
		return cookies, userAgent, nil
	}

	// Escalate to a forced re-solve when the binding is stale or keeps
	// getting challenged.
	if !force {
		stale := !lastRefresh.IsZero() && now.Sub(lastRefresh) >= c.failureCooldown
		if stale || hits >= autoForceChallengeHits {
			force = true
		}
	}
	if force && cached && !lastRefresh.IsZero() && now.Sub(lastRefresh) <= c.forceMinInterval {
		c.logger.Debug("Forced refresh throttled, reusing binding", zap.String("host", host))
		return cookies, userAgent, nil
	}

	if wait := c.minCallInterval - now.Sub(lastCall); wait > 0 && !lastCall.IsZero() {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	hs.dataMu.Lock()
	hs.lastCall = time.Now()
	hs.dataMu.Unlock()

	start := time.Now()
	freshCookies, freshUA, err := c.solve(ctx, host, targetURL, force)
	if err != nil {
		c.recordRefresh(host, "failure", time.Since(start))
		return nil, "", err
	}
	c.recordRefresh(host, "success", time.Since(start))

	c.applyBinding(hs, host, freshCookies, freshUA)
	c.logger.Info("Bypass binding refreshed",
		zap.String("host", host),
		zap.Bool("forced", force),
		zap.Duration("elapsed", time.Since(start)))
	return freshCookies, freshUA, nil
}

// solve walks the bypass targets until one yields cookies. The origin
// root usually covers the whole site; the exact URL catches per-path
// challenges.
func (c *Coordinator) solve(ctx context.Context, host, targetURL string, force bool) (map[string]string, string, error) {
	var lastErr error
	for _, target := range bypassTargets(targetURL) {
		if force {
			if err := c.service.RefreshCache(ctx, target); err != nil {
				lastErr = err
				continue
			}
		}
		cookies, userAgent, err := c.service.FetchCookies(ctx, target)
		if err != nil {
			lastErr = err
			continue
		}
		return cookies, userAgent, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no bypass targets for %q", targetURL)
	}
	return nil, "", fmt.Errorf("bypass solve for %s: %w", host, lastErr)
}

func (c *Coordinator) applyBinding(hs *hostState, host string, cookies map[string]string, userAgent string) {
	if userAgent == "" {
		userAgent = c.bindings.Resolve(host, cookies)
	} else {
		c.bindings.Remember(host, cookies, userAgent)
	}

	hs.dataMu.Lock()
	hs.cookies = cookies
	hs.userAgent = userAgent
	hs.lastRefresh = time.Now()
	hs.challengeHits = 0
	hs.dataMu.Unlock()
}

// NoteChallenge records a challenge hit against a host.
func (c *Coordinator) NoteChallenge(host string) {
	if !c.Enabled() || host == "" {
		return
	}
	hs := c.host(host)
	hs.dataMu.Lock()
	hs.challengeHits++
	hs.dataMu.Unlock()
}

// ResetChallenges clears the challenge counter after a success.
func (c *Coordinator) ResetChallenges(host string) {
	if !c.Enabled() || host == "" {
		return
	}
	hs := c.host(host)
	hs.dataMu.Lock()
	hs.challengeHits = 0
	hs.dataMu.Unlock()
}

// ClearBinding drops the host's cached binding.
func (c *Coordinator) ClearBinding(host string) {
	if !c.Enabled() || host == "" {
		return
	}
	hs := c.host(host)
	hs.dataMu.Lock()
	hs.cookies = nil
	hs.userAgent = ""
	hs.lastRefresh = time.Time{}
	hs.dataMu.Unlock()
}

func (c *Coordinator) host(host string) *hostState {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs, ok := c.hosts[host]
	if !ok {
		hs = &hostState{}
		c.hosts[host] = hs
	}
	return hs
}

func (c *Coordinator) recordRefresh(host, result string, elapsed time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordBypassRefresh(host, result, elapsed)
	}
}

// bypassTargets lists the URLs the service should solve for, origin
// root first, deduplicated.
func bypassTargets(targetURL string) []string {
	u, err := neturl.Parse(targetURL)
	if err != nil || u.Host == "" {
		if targetURL == "" {
			return nil
		}
		return []string{targetURL}
	}
	origin := u.Scheme + "://" + u.Host
	if targetURL == origin || targetURL == origin+"/" {
		return []string{origin}
	}
	return []string{origin, targetURL}
}
