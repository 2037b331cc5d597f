package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/browser"
	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/internal/common/logger"
	"github.com/avmeta/harvester/internal/crawler"
	"github.com/avmeta/harvester/internal/crawler/sites"
	"github.com/avmeta/harvester/internal/events"
	"github.com/avmeta/harvester/internal/fanout"
	"github.com/avmeta/harvester/internal/metrics"
	"github.com/avmeta/harvester/internal/ratelimit"
	"github.com/avmeta/harvester/internal/recordcache"
	"github.com/avmeta/harvester/internal/webclient"
	"github.com/avmeta/harvester/internal/webclient/bypass"
	"github.com/avmeta/harvester/pkg/types"
)

func main() {
	configPath := flag.String("c", "", "path to configuration file (defaults apply when empty)")
	language := flag.String("language", "", "preferred metadata language (jp, zh_cn, en)")
	appointURL := flag.String("url", "", "skip searching and scrape this detail URL")
	shortNumber := flag.String("short-number", "", "label-local short form of the number")
	skipCache := flag.Bool("no-cache", false, "bypass the merged-record cache")
	pretty := flag.Bool("pretty", false, "indent the JSON output")
	flag.Parse()

	numbers := flag.Args()
	if len(numbers) == 0 {
		fmt.Fprintln(os.Stderr, "usage: harvester [flags] NUMBER [NUMBER...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			initialLogger.Fatal("Failed to load config", zap.Error(err))
		}
	}

	dynamicLogger, err := logger.NewLogger(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()
	zapLogger := dynamicLogger.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to assemble pipeline", zap.Error(err))
	}
	defer app.Close()

	encoder := json.NewEncoder(os.Stdout)
	if *pretty {
		encoder.SetIndent("", "  ")
	}

	exitCode := 0
	for _, number := range numbers {
		input := types.LookupInput{
			Number:      number,
			Language:    *language,
			AppointURL:  *appointURL,
			ShortNumber: *shortNumber,
			SkipCache:   *skipCache,
		}
		record, err := app.Lookup(ctx, input)
		if err != nil {
			zapLogger.Error("Lookup failed",
				zap.String("number", number), zap.Error(err))
			exitCode = 1
			continue
		}
		if err := encoder.Encode(record); err != nil {
			zapLogger.Fatal("Failed to write record", zap.Error(err))
		}
	}
	os.Exit(exitCode)
}

// app ties the engine, cache and shared resources together for the
// lifetime of one invocation.
type app struct {
	engine  *fanout.Engine
	cache   recordcache.Cache
	browser *browser.Pool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func buildApp(cfg *config.Config, zapLogger *zap.Logger) (*app, error) {
	m := metrics.New(cfg.Metrics.Namespace, zapLogger)
	if _, err := metrics.StartServer(cfg.Metrics.Enabled, cfg.Metrics.Listen, cfg.Metrics.Path, m, zapLogger); err != nil {
		return nil, err
	}

	limiters := ratelimit.NewRegistry(ratelimit.Config{
		RatePerSecond:      cfg.Limiter.RatePerSecond,
		Burst:              cfg.Limiter.Burst,
		LocalRatePerSecond: cfg.Limiter.LocalRatePerSecond,
		Overrides:          cfg.Limiter.Overrides,
	})

	coordinator, err := bypass.New(cfg.Bypass, m, zapLogger)
	if err != nil {
		return nil, err
	}

	client, err := webclient.New(webclient.Config{
		Timeout: cfg.HTTP.Timeout.ToDuration(),
		Retry:   cfg.HTTP.Retry,
		Proxy:   cfg.HTTP.Proxy,
	}, limiters, coordinator, m, zapLogger)
	if err != nil {
		return nil, err
	}

	var pool *browser.Pool
	if cfg.Browser.Enabled {
		pool, err = browser.NewPool(browser.FromAppConfig(cfg.Browser), zapLogger)
		if err != nil {
			// Browser-rendered sites degrade to plain fetches.
			zapLogger.Warn("Browser pool unavailable", zap.Error(err))
			pool = nil
		}
	}

	cache, err := recordcache.New(cfg.Cache, zapLogger)
	if err != nil {
		return nil, err
	}

	emitter := events.NewZapEmitter(zapLogger)
	engine := fanout.New(registeredSites(), client, pool, emitter, m, cfg.Sites, zapLogger)

	return &app{engine: engine, cache: cache, browser: pool, metrics: m, logger: zapLogger}, nil
}

// registeredSites lists every crawler; the order is the default merge
// priority when no field_priority table is configured.
func registeredSites() []crawler.Site {
	return []crawler.Site{
		sites.NewDMM(),
		sites.NewAVBase(),
		sites.NewJavBus(),
		sites.NewMGStage(),
		sites.NewMissAV(),
	}
}

// Lookup serves from the record cache when allowed, crawling and
// backfilling on a miss.
func (a *app) Lookup(ctx context.Context, input types.LookupInput) (*types.MergedRecord, error) {
	if !input.SkipCache {
		if record, err := a.cache.Get(ctx, input.Number); err != nil {
			a.logger.Warn("Record cache read failed", zap.Error(err))
		} else if record != nil {
			a.metrics.RecordCacheHit()
			record.FromCache = true
			return record, nil
		}
		a.metrics.RecordCacheMiss()
	}

	record, err := a.engine.Lookup(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := a.cache.Set(ctx, input.Number, record); err != nil {
		a.logger.Warn("Record cache write failed", zap.Error(err))
	}
	return record, nil
}

func (a *app) Close() {
	if a.browser != nil {
		if err := a.browser.Shutdown(); err != nil {
			a.logger.Warn("Browser pool shutdown failed", zap.Error(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("Record cache close failed", zap.Error(err))
	}
}
