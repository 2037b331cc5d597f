package webclient

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/image/webp"

	"github.com/avmeta/harvester/internal/gather"
)

const (
	chunkSize = 1 << 20 // 1 MiB ranged chunks
	// chunkThreshold: below this a plain GET is cheaper than ranged
	// coordination.
	chunkThreshold = 2 << 20
	chunkWorkers   = 10

	jpegQuality = 95
)

// Download fetches a file to disk. Large files are fetched as
// concurrent ranged chunks; webp images destined for a .jpg path are
// converted to JPEG.
func (c *Client) Download(ctx context.Context, url, filePath string, opts *RequestOptions) error {
	size, err := c.ContentLength(ctx, url, opts)
	if err != nil {
		c.logger.Debug("HEAD for download failed, falling back to single GET",
			zap.String("url", url),
			zap.Error(err))
		size = 0
	}

	isWebp := filepath.Ext(filePath) == ".jpg" && strings.Contains(url, ".webp")

	if size > chunkThreshold && !isWebp {
		return c.downloadChunks(ctx, url, filePath, size, opts)
	}

	content, err := c.GetBytes(ctx, url, opts)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if isWebp {
		return writeWebpAsJPEG(content, filePath)
	}
	if err := os.WriteFile(filePath, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filePath, err)
	}
	return nil
}

// downloadChunks fetches 1 MiB ranges concurrently and writes them at
// offset into a pre-sized file.
func (c *Client) downloadChunks(ctx context.Context, url, filePath string, size int64, opts *RequestOptions) error {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filePath, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("preallocate %s: %w", filePath, err)
	}

	type span struct{ start, end int64 }
	var parts []span
	for s := int64(0); s < size; s += chunkSize {
		e := s + chunkSize
		if e > size {
			e = size
		}
		parts = append(parts, span{s, e})
	}

	c.logger.Debug("Chunked download",
		zap.String("url", url),
		zap.Int("chunks", len(parts)),
		zap.Int64("size", size))

	sem := make(chan struct{}, chunkWorkers)
	g := gather.New[struct{}](ctx, 0)
	for _, p := range parts {
		p := p
		g.Go(func(ctx context.Context) (struct{}, error) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return struct{}{}, ctx.Err()
			}

			chunkOpts := RequestOptions{}
			if opts != nil {
				chunkOpts = *opts
			}
			chunkOpts.Headers = map[string]string{
				"Range": fmt.Sprintf("bytes=%d-%d", p.start, p.end-1),
			}
			resp, err := c.Request(ctx, http.MethodGet, url, &chunkOpts)
			if err != nil {
				return struct{}{}, fmt.Errorf("chunk %d-%d: %w", p.start, p.end, err)
			}
			if _, err := f.WriteAt(resp.Body, p.start); err != nil {
				return struct{}{}, fmt.Errorf("write chunk at %d: %w", p.start, err)
			}
			return struct{}{}, nil
		})
	}

	for _, r := range g.Wait() {
		if r.Err != nil {
			return fmt.Errorf("chunked download %s: %w", url, r.Err)
		}
	}
	return nil
}

// writeWebpAsJPEG decodes webp content and writes it as a quality-95
// JPEG, the format the rest of the pipeline expects for posters.
func writeWebpAsJPEG(content []byte, filePath string) error {
	img, err := webp.Decode(bytes.NewReader(content))
	if err != nil {
		// Some "webp" URLs actually serve JPEG or PNG.
		var fallbackErr error
		img, _, fallbackErr = image.Decode(bytes.NewReader(content))
		if fallbackErr != nil {
			return fmt.Errorf("decode webp: %w", err)
		}
	}

	out, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", filePath, err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("encode jpeg %s: %w", filePath, err)
	}
	return nil
}
