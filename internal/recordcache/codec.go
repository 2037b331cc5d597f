package recordcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/avmeta/harvester/pkg/types"
)

// Supported compression algorithms.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// Payloads below this size are stored raw; compression overhead beats
// the savings.
const compressionMinSize = 512

// One-byte payload markers so stored blobs are self-describing.
const (
	markerRaw    = 'r'
	markerSnappy = 's'
	markerLZ4    = 'l'
)

// encodeRecord marshals and optionally compresses one merged record.
func encodeRecord(record *types.MergedRecord, algorithm string) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("recordcache: encode: %w", err)
	}

	if len(raw) < compressionMinSize {
		algorithm = CompressionNone
	}
	switch algorithm {
	case CompressionSnappy:
		return append([]byte{markerSnappy}, snappy.Encode(nil, raw)...), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		buf.WriteByte(markerLZ4)
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			w.Close()
			return nil, fmt.Errorf("recordcache: lz4: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("recordcache: lz4 close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return append([]byte{markerRaw}, raw...), nil
	}
}

// decodeRecord reverses encodeRecord, dispatching on the marker byte.
func decodeRecord(payload []byte) (*types.MergedRecord, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("recordcache: payload too short")
	}
	marker, body := payload[0], payload[1:]

	var raw []byte
	switch marker {
	case markerRaw:
		raw = body
	case markerSnappy:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("recordcache: snappy: %w", err)
		}
		raw = decoded
	case markerLZ4:
		decoded, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("recordcache: lz4: %w", err)
		}
		raw = decoded
	default:
		return nil, fmt.Errorf("recordcache: unknown payload marker %q", marker)
	}

	var record types.MergedRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("recordcache: decode: %w", err)
	}
	return &record, nil
}
