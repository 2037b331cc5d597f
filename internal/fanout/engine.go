// Package fanout dispatches one logical lookup to every enabled site
// concurrently and merges the per-site records field by field.
package fanout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/browser"
	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/internal/events"
	"github.com/avmeta/harvester/internal/gather"
	"github.com/avmeta/harvester/internal/metrics"
	"github.com/avmeta/harvester/internal/webclient"
	"github.com/avmeta/harvester/pkg/types"
)

// ErrNoResults is returned when every site fails for a lookup.
var ErrNoResults = errors.New("fanout: no site returned a record")

// Completed crawls stay visible to concurrent lookups of the same
// number for this long before they are evicted.
const flightGrace = 15 * time.Second

type flightKey struct {
	site   types.Website
	number string
}

type flight struct {
	done chan struct{}
	data *types.CrawlerData
	err  error
}

// Engine owns the registered site crawlers and the shared plumbing they
// run on.
type Engine struct {
	sites   map[types.Website]crawler.Site
	order   []types.Website
	client  *webclient.Client
	browser *browser.Pool
	logger  *zap.Logger
	emitter events.Emitter
	metrics *metrics.Metrics
	cfg     config.SitesConfig

	mu       sync.Mutex
	inflight map[flightKey]*flight
}

// New registers the site crawlers in the given order; the registration
// order doubles as the default merge priority.
func New(sites []crawler.Site, client *webclient.Client, pool *browser.Pool,
	emitter events.Emitter, m *metrics.Metrics, cfg config.SitesConfig, logger *zap.Logger) *Engine {
	e := &Engine{
		sites:    make(map[types.Website]crawler.Site, len(sites)),
		client:   client,
		browser:  pool,
		logger:   logger,
		emitter:  emitter,
		metrics:  m,
		cfg:      cfg,
		inflight: make(map[flightKey]*flight),
	}
	for _, site := range sites {
		name := site.Name()
		if _, dup := e.sites[name]; dup {
			continue
		}
		e.sites[name] = site
		e.order = append(e.order, name)
	}
	return e
}

// EnabledSites resolves which registered crawlers participate: the site
// must be enabled, and when a field-priority table exists it must be
// named in at least one field's list.
func (e *Engine) EnabledSites() []types.Website {
	enabled := make(map[types.Website]bool, len(e.order))
	if len(e.cfg.Enabled) == 0 {
		for _, name := range e.order {
			enabled[name] = true
		}
	} else {
		for _, raw := range e.cfg.Enabled {
			enabled[types.Website(raw)] = true
		}
	}

	if len(e.cfg.FieldPriority) > 0 {
		prioritized := make(map[types.Website]bool)
		for _, order := range e.cfg.FieldPriority {
			for _, raw := range order {
				prioritized[types.Website(raw)] = true
			}
		}
		for name := range enabled {
			if !prioritized[name] {
				delete(enabled, name)
			}
		}
	}

	var out []types.Website
	for _, name := range e.order {
		if enabled[name] {
			out = append(out, name)
		}
	}
	return out
}

// Lookup fans the input out to every enabled site and merges the
// results. It returns ErrNoResults when nothing came back.
func (e *Engine) Lookup(ctx context.Context, input types.LookupInput) (*types.MergedRecord, error) {
	start := time.Now()
	lookupID := uuid.NewString()[:8]
	siteNames := e.EnabledSites()
	if len(siteNames) == 0 {
		return nil, ErrNoResults
	}

	e.logger.Info("Lookup started",
		zap.String("lookup_id", lookupID),
		zap.String("number", input.Number),
		zap.Int("sites", len(siteNames)))

	group := gather.New[*types.CrawlerData](ctx, e.cfg.Timeout.ToDuration())
	for _, name := range siteNames {
		site := e.sites[name]
		taskInput := siteInput(name, input)
		group.Go(func(taskCtx context.Context) (*types.CrawlerData, error) {
			return e.crawlSite(taskCtx, site, taskInput, lookupID)
		})
	}

	siteData := make(map[types.Website]*types.CrawlerData, len(siteNames))
	var lastErr error
	for i, result := range group.Wait() {
		name := siteNames[i]
		if result.Err != nil {
			lastErr = result.Err
			e.recordSiteResult(name, "error")
			e.logger.Debug("Site failed",
				zap.String("lookup_id", lookupID),
				zap.String("site", string(name)),
				zap.Error(result.Err))
			continue
		}
		e.recordSiteResult(name, "ok")
		siteData[name] = result.Value
	}

	if len(siteData) == 0 {
		e.recordLookup("miss", time.Since(start))
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrNoResults
	}

	record := e.merge(siteNames, siteData)
	// The number is never empty: when no site produced one, the input
	// number is adopted.
	if !types.ValidField(record.Number) {
		record.Number = types.NormalizeNumber(input.Number)
	}
	record.Elapsed = time.Since(start)
	e.recordLookup("ok", record.Elapsed)
	e.logger.Info("Lookup merged",
		zap.String("lookup_id", lookupID),
		zap.String("number", record.Number),
		zap.Int("site_count", len(siteData)),
		zap.Duration("elapsed", record.Elapsed))
	return record, nil
}

// siteInput builds the per-task input copy. Label-prefixed numbers keep
// the prefix on MGStage and drop it everywhere else.
func siteInput(site types.Website, input types.LookupInput) types.LookupInput {
	task := input
	if task.ShortNumber != "" && site != types.SiteMGStage {
		task.Number = task.ShortNumber
	}
	return task
}

// crawlSite runs one site, deduplicating against concurrent lookups of
// the same (site, number) pair. Later arrivals wait on the first
// flight; finished flights linger for a grace window so their outcome,
// failures included, is reused instead of re-crawled.
func (e *Engine) crawlSite(ctx context.Context, site crawler.Site, input types.LookupInput, lookupID string) (*types.CrawlerData, error) {
	key := flightKey{site: site.Name(), number: types.NormalizeNumber(input.Number)}

	e.mu.Lock()
	if f, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		select {
		case <-f.done:
			return f.data, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	e.inflight[key] = f
	e.mu.Unlock()

	f.data, f.err = crawler.Run(ctx, e.siteContext(lookupID, input), site)
	close(f.done)

	if f.err == nil || crawler.Permanent(f.err) {
		time.AfterFunc(flightGrace, func() { e.evict(key, f) })
	} else {
		e.evict(key, f)
	}
	return f.data, f.err
}

func (e *Engine) evict(key flightKey, f *flight) {
	e.mu.Lock()
	if e.inflight[key] == f {
		delete(e.inflight, key)
	}
	e.mu.Unlock()
}

func (e *Engine) siteContext(lookupID string, input types.LookupInput) *crawler.Context {
	return &crawler.Context{
		LookupID: lookupID,
		Input:    input,
		Client:   e.client,
		Browser:  e.browser,
		Logger:   e.logger,
		Events:   e.emitter,
		Config:   e.cfg,
	}
}

func (e *Engine) recordSiteResult(site types.Website, result string) {
	if e.metrics != nil {
		e.metrics.RecordSiteResult(string(site), result)
	}
}

func (e *Engine) recordLookup(result string, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordLookup(result, elapsed)
	}
}
