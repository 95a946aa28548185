// Package download retrieves lecture audio over the direct-file and
// HLS-manifest protocols.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/fileutil"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/services"
	"github.com/hananf11/echo360/internal/streams"
)

// Progress receives completion counts while a download runs: bytes for
// direct fetches, finished segments for manifests. done only ever grows;
// total is the expected final count, or 0 when unknown. Callbacks may be
// invoked from concurrent segment workers. A nil Progress is allowed.
type Progress func(done, total int64)

// Client retrieves playlists and media. One Client is shared process-wide
// so the segment semaphore bounds total fan-out across lectures.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	segments   *semaphore.Weighted
	retries    int
	retryDelay time.Duration
}

// NewClient constructs a Client from the download configuration.
func NewClient(cfg config.Download, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(cfg.RequestTimeout) * time.Second},
		logger:     logging.NewComponentLogger(logger, "download"),
		segments:   semaphore.NewWeighted(int64(cfg.SegmentWorkers)),
		retries:    cfg.SegmentRetries,
		retryDelay: time.Duration(cfg.SegmentRetryDelayMS) * time.Millisecond,
	}
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrTransient, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d for %s", services.ErrTransient, resp.StatusCode, rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("status %d for %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}

// Direct streams a primary file straight to destPath.
func (c *Client) Direct(ctx context.Context, rawURL, destPath string, progress Progress) error {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if progress != nil {
		total := resp.ContentLength
		if total < 0 {
			total = 0
		}
		body = &progressReader{reader: resp.Body, total: total, progress: progress}
	}

	written, err := fileutil.CopyStream(destPath, body)
	if err != nil {
		return err
	}
	c.logger.Info("direct download complete",
		logging.String("path", destPath),
		logging.Int64("bytes", written))
	return nil
}

// progressReader reports cumulative bytes read through it.
type progressReader struct {
	reader   io.Reader
	done     int64
	total    int64
	progress Progress
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.done += int64(n)
		r.progress(r.done, r.total)
	}
	return n, err
}

// FetchPlaylist retrieves and parses one HLS playlist.
func (c *Client) FetchPlaylist(ctx context.Context, rawURL string) (*streams.Playlist, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse playlist url: %w", err)
	}
	return streams.ParsePlaylist(string(body), base)
}

// ResolveSegments walks from a manifest URL to the list of audio segments.
// A master playlist is followed one level down; a nested master is an
// error.
func (c *Client) ResolveSegments(ctx context.Context, manifestURL string) ([]streams.Segment, error) {
	playlist, err := c.FetchPlaylist(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	if playlist.IsMaster() {
		nestedURL, ok := playlist.AudioPlaylistURL()
		if !ok {
			return nil, fmt.Errorf("%w: master playlist lists no streams", services.ErrNoMedia)
		}
		playlist, err = c.FetchPlaylist(ctx, nestedURL)
		if err != nil {
			return nil, err
		}
		if playlist.IsMaster() {
			return nil, errors.New("nested master playlist")
		}
	}
	if len(playlist.Segments) == 0 {
		return nil, fmt.Errorf("%w: playlist has no segments", services.ErrNoMedia)
	}
	return playlist.Segments, nil
}

// FetchSegments downloads the given segments concurrently and returns their
// payloads in input order. progress, when set, is called with the count of
// finished segments.
func (c *Client) FetchSegments(ctx context.Context, segments []streams.Segment, progress Progress) ([][]byte, error) {
	results := make([][]byte, len(segments))
	group, groupCtx := errgroup.WithContext(ctx)

	var finished atomic.Int64
	total := int64(len(segments))
	for i, segment := range segments {
		i, segment := i, segment
		group.Go(func() error {
			if err := c.segments.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer c.segments.Release(1)

			data, err := c.fetchSegmentWithRetry(groupCtx, segment.URI)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			results[i] = data
			if progress != nil {
				progress(finished.Add(1), total)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) fetchSegmentWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		data, err := c.fetchSegmentOnce(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !services.IsRetryable(err) || attempt == c.retries {
			break
		}
		c.logger.Debug("segment fetch retrying",
			logging.String("url", rawURL),
			logging.Int("attempt", attempt),
			logging.Error(err))
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) fetchSegmentOnce(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read segment: %v", services.ErrTransient, err)
	}
	return data, nil
}

// Manifest downloads a lecture's audio via its HLS manifest, joining the
// segments in index order into destPath.
func (c *Client) Manifest(ctx context.Context, manifestURL, destPath string, progress Progress) error {
	segments, err := c.ResolveSegments(ctx, manifestURL)
	if err != nil {
		return err
	}

	payloads, err := c.FetchSegments(ctx, segments, progress)
	if err != nil {
		return err
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", destPath, err)
	}
	var written int64
	for _, payload := range payloads {
		n, err := file.Write(payload)
		written += int64(n)
		if err != nil {
			file.Close()
			os.Remove(destPath)
			return fmt.Errorf("write %q: %w", destPath, err)
		}
	}
	if err := file.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("close %q: %w", destPath, err)
	}

	c.logger.Info("manifest download complete",
		logging.String("path", destPath),
		logging.Int("segments", len(segments)),
		logging.Int64("bytes", written))
	return nil
}
