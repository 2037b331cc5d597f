// Package ratelimit provides per-host token bucket rate limiting for
// outbound scraping traffic.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Loopback hosts are effectively unthrottled; local bypass services and
// test servers must not be slowed down by scrape pacing.
var loopbackHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
}

// Config controls limiter creation.
type Config struct {
	// RatePerSecond is the default per-host rate.
	RatePerSecond float64
	// Burst is the bucket depth for every limiter.
	Burst int
	// LocalRatePerSecond applies to loopback hosts.
	LocalRatePerSecond float64
	// Overrides maps hostname to a custom rate.
	Overrides map[string]float64
}

// DefaultConfig mirrors production pacing: 5 req/s per remote host,
// 300 req/s for loopback.
func DefaultConfig() Config {
	return Config{
		RatePerSecond:      5,
		Burst:              5,
		LocalRatePerSecond: 300,
	}
}

// Registry hands out one token bucket per hostname, created lazily.
type Registry struct {
	config   Config
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config) *Registry {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 5
	}
	if config.Burst < 1 {
		config.Burst = int(config.RatePerSecond)
		if config.Burst < 1 {
			config.Burst = 1
		}
	}
	if config.LocalRatePerSecond <= 0 {
		config.LocalRatePerSecond = 300
	}
	return &Registry{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host's bucket grants a token or ctx is done.
func (r *Registry) Wait(ctx context.Context, host string) error {
	return r.limiter(host).Wait(ctx)
}

// Allow reports whether a token is immediately available without waiting.
func (r *Registry) Allow(host string) bool {
	return r.limiter(host).Allow()
}

func (r *Registry) limiter(host string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lim, ok := r.limiters[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(r.rateFor(host)), r.config.Burst)
	r.limiters[host] = lim
	return lim
}

func (r *Registry) rateFor(host string) float64 {
	if override, ok := r.config.Overrides[host]; ok && override > 0 {
		return override
	}
	if _, ok := loopbackHosts[host]; ok {
		return r.config.LocalRatePerSecond
	}
	return r.config.RatePerSecond
}
