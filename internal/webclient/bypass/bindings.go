package bypass

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// A clearance cookie only works with the browser fingerprint that
// earned it, so every cookie set is bound to the User-Agent the bypass
// service used. The cache is bounded: stale bindings expire by TTL and
// overflow evicts the oldest, per host and globally.
type bindingCache struct {
	ttl        time.Duration
	perHostMax int
	totalMax   int

	mu    sync.Mutex
	hosts map[string]map[string]bindingEntry
}

type bindingEntry struct {
	userAgent string
	storedAt  time.Time
}

func newBindingCache(ttl time.Duration, perHostMax, totalMax int) *bindingCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if perHostMax < 1 {
		perHostMax = 32
	}
	if totalMax < 1 {
		totalMax = 256
	}
	return &bindingCache{
		ttl:        ttl,
		perHostMax: perHostMax,
		totalMax:   totalMax,
		hosts:      make(map[string]map[string]bindingEntry),
	}
}

// bindingKey derives the identity of a cookie set. cf_clearance alone
// identifies a clearance; otherwise the whole sorted set does. The key
// is hashed so arbitrary cookie values stay out of map keys and logs.
func bindingKey(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	if cf := strings.TrimSpace(cookies["cf_clearance"]); cf != "" {
		return hashKey("cf_clearance=" + cf)
	}
	pairs := make([]string, 0, len(cookies))
	for k, v := range cookies {
		if k == "" {
			continue
		}
		pairs = append(pairs, k+"="+v)
	}
	if len(pairs) == 0 {
		return ""
	}
	sort.Strings(pairs)
	return hashKey(strings.Join(pairs, "&"))
}

func hashKey(raw string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(raw))
}

// Remember stores the cookie→UA binding for a host.
func (b *bindingCache) Remember(host string, cookies map[string]string, userAgent string) {
	userAgent = strings.TrimSpace(userAgent)
	if host == "" || userAgent == "" {
		return
	}
	key := bindingKey(cookies)
	if key == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.hosts[host]
	if entries == nil {
		entries = make(map[string]bindingEntry)
		b.hosts[host] = entries
	}
	entries[key] = bindingEntry{userAgent: userAgent, storedAt: time.Now()}
	b.pruneHostLocked(host)
	b.pruneGlobalLocked()
}

// Resolve returns the bound User-Agent for a cookie set, or "".
func (b *bindingCache) Resolve(host string, cookies map[string]string) string {
	if host == "" {
		return ""
	}
	key := bindingKey(cookies)
	if key == "" {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneHostLocked(host)
	entries := b.hosts[host]
	if entries == nil {
		return ""
	}
	return entries[key].userAgent
}

func (b *bindingCache) pruneHostLocked(host string) {
	entries := b.hosts[host]
	if len(entries) == 0 {
		delete(b.hosts, host)
		return
	}

	now := time.Now()
	for key, e := range entries {
		if now.Sub(e.storedAt) > b.ttl {
			delete(entries, key)
		}
	}

	for len(entries) > b.perHostMax {
		delete(entries, oldestKey(entries))
	}
	if len(entries) == 0 {
		delete(b.hosts, host)
	}
}

func (b *bindingCache) pruneGlobalLocked() {
	total := 0
	for _, entries := range b.hosts {
		total += len(entries)
	}
	for total > b.totalMax {
		var oldestHost, oldest string
		var oldestAt time.Time
		for host, entries := range b.hosts {
			for key, e := range entries {
				if oldest == "" || e.storedAt.Before(oldestAt) {
					oldestHost, oldest, oldestAt = host, key, e.storedAt
				}
			}
		}
		if oldest == "" {
			return
		}
		delete(b.hosts[oldestHost], oldest)
		if len(b.hosts[oldestHost]) == 0 {
			delete(b.hosts, oldestHost)
		}
		total--
	}
}

func oldestKey(entries map[string]bindingEntry) string {
	var key string
	var at time.Time
	for k, e := range entries {
		if key == "" || e.storedAt.Before(at) {
			key, at = k, e.storedAt
		}
	}
	return key
}

// size reports total entries; used by tests.
func (b *bindingCache) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, entries := range b.hosts {
		total += len(entries)
	}
	return total
}
