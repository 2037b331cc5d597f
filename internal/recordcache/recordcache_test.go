package recordcache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/pkg/types"
)

func sampleRecord(number string) *types.MergedRecord {
	record := &types.MergedRecord{
		FieldSources: map[string]types.Website{"title": types.SiteDMM},
	}
	record.Number = number
	record.Title = "テストタイトル"
	record.Release = "2023-08-15"
	record.Actors = []string{"山田花子"}
	return record
}

func TestCodecRoundTrip(t *testing.T) {
	record := sampleRecord("ABC-123")
	// Pad the outline past the compression threshold.
	record.Outline = strings.Repeat("あらすじ。", 200)

	for _, algorithm := range []string{CompressionNone, CompressionSnappy, CompressionLZ4} {
		payload, err := encodeRecord(record, algorithm)
		require.NoError(t, err, algorithm)

		decoded, err := decodeRecord(payload)
		require.NoError(t, err, algorithm)
		assert.Equal(t, record.Title, decoded.Title, algorithm)
		assert.Equal(t, record.Outline, decoded.Outline, algorithm)
		assert.Equal(t, types.SiteDMM, decoded.FieldSources["title"], algorithm)
	}
}

func TestCodecSkipsCompressionForSmallPayloads(t *testing.T) {
	payload, err := encodeRecord(sampleRecord("ABC-123"), CompressionSnappy)
	require.NoError(t, err)
	assert.EqualValues(t, markerRaw, payload[0])
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := decodeRecord([]byte{})
	assert.Error(t, err)
	_, err = decodeRecord([]byte("x?"))
	assert.Error(t, err)
	_, err = decodeRecord([]byte("rnot-json"))
	assert.Error(t, err)
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	cache := NewMemory(10, time.Minute)
	ctx := context.Background()

	got, err := cache.Get(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Set(ctx, "abc-123", sampleRecord("ABC-123")))

	// Keys are normalized, so case does not matter.
	got, err = cache.Get(ctx, "ABC-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "テストタイトル", got.Title)
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemory(10, time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "ABC-123", sampleRecord("ABC-123")))

	now = now.Add(2 * time.Minute)
	got, err := cache.Get(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, cache.Len())
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	cache := NewMemory(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "AAA-001", sampleRecord("AAA-001")))
	require.NoError(t, cache.Set(ctx, "BBB-002", sampleRecord("BBB-002")))

	// Touch AAA so BBB is the eviction candidate.
	_, err := cache.Get(ctx, "AAA-001")
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "CCC-003", sampleRecord("CCC-003")))
	assert.Equal(t, 2, cache.Len())

	got, _ := cache.Get(ctx, "BBB-002")
	assert.Nil(t, got)
	got, _ = cache.Get(ctx, "AAA-001")
	assert.NotNil(t, got)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	server := miniredis.RunT(t)
	cache, err := NewRedis(config.RedisConfig{Addr: server.Addr()},
		CompressionSnappy, time.Hour, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return server, cache
}

func TestRedisCacheRoundTrip(t *testing.T) {
	server, cache := newTestRedis(t)
	ctx := context.Background()

	got, err := cache.Get(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Set(ctx, "ABC-123", sampleRecord("ABC-123")))

	got, err = cache.Get(ctx, "abc-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "テストタイトル", got.Title)
	assert.Equal(t, []string{"山田花子"}, got.Actors)

	// Entries expire server-side.
	server.FastForward(2 * time.Hour)
	got, err = cache.Get(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCacheDropsCorruptEntries(t *testing.T) {
	server, cache := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, server.Set(Key("ABC-123"), "xgarbage"))

	got, err := cache.Get(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, server.Exists(Key("ABC-123")))
}

func TestNewBackendSelection(t *testing.T) {
	cache, err := New(config.CacheConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, Noop{}, cache)

	cache, err = New(config.CacheConfig{Backend: config.CacheBackendMemory}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, cache)

	_, err = New(config.CacheConfig{Backend: "postgres"}, zap.NewNop())
	assert.Error(t, err)
}
