// Package recordcache stores finished MergedRecords keyed by their
// normalized number, so repeat lookups skip the crawl entirely.
package recordcache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/pkg/types"
)

// Cache is the merged-record store. Get returns (nil, nil) on a miss;
// storage errors are returned, never panicked.
type Cache interface {
	Get(ctx context.Context, number string) (*types.MergedRecord, error)
	Set(ctx context.Context, number string, record *types.MergedRecord) error
	Close() error
}

const defaultTTL = 24 * time.Hour

// Key builds the storage key for a number.
func Key(number string) string {
	return "record:" + types.NormalizeNumber(number)
}

// New builds the backend named in the config.
func New(cfg config.CacheConfig, logger *zap.Logger) (Cache, error) {
	ttl := cfg.TTL.ToDuration()
	if ttl <= 0 {
		ttl = defaultTTL
	}
	switch cfg.Backend {
	case "", config.CacheBackendNone:
		return Noop{}, nil
	case config.CacheBackendMemory:
		return NewMemory(cfg.MaxEntries, ttl), nil
	case config.CacheBackendRedis:
		return NewRedis(cfg.Redis, cfg.Compression, ttl, logger)
	default:
		return nil, fmt.Errorf("recordcache: unknown backend %q", cfg.Backend)
	}
}

// Noop satisfies Cache without storing anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (*types.MergedRecord, error) { return nil, nil }
func (Noop) Set(context.Context, string, *types.MergedRecord) error   { return nil }
func (Noop) Close() error                                             { return nil }
