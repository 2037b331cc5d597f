package recordcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/pkg/types"
)

// Redis stores compressed record payloads with a server-side TTL.
type Redis struct {
	rdb         *redis.Client
	compression string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewRedis connects and pings; a dead server fails construction rather
// than every lookup.
func NewRedis(cfg config.RedisConfig, compression string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("recordcache: redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("recordcache: redis connect: %w", err)
	}

	if compression == "" {
		compression = CompressionSnappy
	}
	logger.Debug("Record cache connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("compression", compression))

	return &Redis{rdb: rdb, compression: compression, ttl: ttl, logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, number string) (*types.MergedRecord, error) {
	payload, err := r.rdb.Get(ctx, Key(number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recordcache: redis get: %w", err)
	}
	record, err := decodeRecord(payload)
	if err != nil {
		// A corrupt entry is dropped, not surfaced as a lookup failure.
		r.logger.Warn("Dropping undecodable cache entry",
			zap.String("number", number), zap.Error(err))
		r.rdb.Del(ctx, Key(number))
		return nil, nil
	}
	return record, nil
}

func (r *Redis) Set(ctx context.Context, number string, record *types.MergedRecord) error {
	payload, err := encodeRecord(record, r.compression)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, Key(number), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("recordcache: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
