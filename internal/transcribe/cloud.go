package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/fileutil"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/media/ffmpeg"
	"github.com/hananf11/echo360/internal/services"
)

// errRateLimited marks a 429 from the transcription API. It triggers the
// endpoint fallback once the retry budget is spent.
var errRateLimited = errors.New("transcription api rate limited")

const (
	defaultUploadRetries = 5
	maxRetryAfter        = 2 * time.Minute
)

// cloud uploads audio to an OpenAI-compatible transcription API, asking for
// verbose output so segment timestamps survive. When chunked, files over
// the upload limit are split with ffmpeg and the chunk segments stitched in
// order with their offsets shifted; otherwise oversized files are rejected.
type cloud struct {
	name       string
	apiURL     string
	apiKey     string
	model      string
	maxBytes   int64
	chunked    bool
	ffmpeg     *ffmpeg.FFmpeg
	httpClient *http.Client
	retries    int
	retryDelay time.Duration
	fallback   Provider
	logger     *slog.Logger
}

func newCloud(cfg config.Transcription, ff *ffmpeg.FFmpeg, chunked bool, logger *slog.Logger) *cloud {
	if logger == nil {
		logger = logging.NewNop()
	}
	name := "cloud"
	if !chunked {
		name = "remote"
	}
	return &cloud{
		name:       name,
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		model:      cfg.APIModel,
		maxBytes:   cfg.MaxUploadBytes,
		chunked:    chunked,
		ffmpeg:     ff,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		retries:    defaultUploadRetries,
		retryDelay: 2 * time.Second,
		logger:     logging.NewComponentLogger(logger, "transcribe"),
	}
}

func (c *cloud) Name() string { return c.name }
func (c *cloud) Local() bool  { return false }

func (c *cloud) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	segments, err := c.transcribe(ctx, audioPath)
	if err != nil && errors.Is(err, errRateLimited) && c.fallback != nil {
		c.logger.Warn("rate limited, falling back to transcription endpoint", logging.Error(err))
		return c.fallback.Transcribe(ctx, audioPath)
	}
	return segments, err
}

func (c *cloud) transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: transcription api key not set", services.ErrConfiguration)
	}

	size := fileutil.Size(audioPath)
	if size <= c.maxBytes {
		return c.upload(ctx, audioPath)
	}
	if !c.chunked {
		return nil, fmt.Errorf("file %s exceeds upload limit (%d > %d bytes)", audioPath, size, c.maxBytes)
	}
	return c.transcribeChunked(ctx, audioPath, size)
}

func (c *cloud) transcribeChunked(ctx context.Context, audioPath string, size int64) ([]Segment, error) {
	probe, err := c.ffmpeg.Probe(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	if probe.DurationSeconds <= 0 {
		return nil, fmt.Errorf("cannot chunk %s: unknown duration", audioPath)
	}

	// Undershoot the limit so bitrate variance cannot push a chunk over.
	chunkSeconds := probe.DurationSeconds * float64(c.maxBytes) / float64(size) * 0.9

	chunkDir, err := os.MkdirTemp(filepath.Dir(audioPath), "chunks-*")
	if err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	defer os.RemoveAll(chunkDir)

	chunks, err := c.ffmpeg.SplitAudio(ctx, audioPath, chunkDir, chunkSeconds)
	if err != nil {
		return nil, err
	}
	c.logger.Info("transcribing in chunks",
		logging.String("path", audioPath),
		logging.Int("chunks", len(chunks)))

	// Each chunk's segments are relative to its own start, so they are
	// shifted by the playback time accumulated so far. The actual chunk
	// duration is probed because the segment muxer cuts on frame
	// boundaries, not exactly at chunkSeconds.
	var (
		offset   float64
		stitched []Segment
	)
	for _, chunk := range chunks {
		segments, err := c.upload(ctx, chunk.Path)
		if err != nil {
			return nil, fmt.Errorf("chunk at %.0fs: %w", chunk.StartSeconds, err)
		}
		for _, segment := range segments {
			segment.Start += offset
			segment.End += offset
			stitched = append(stitched, segment)
		}
		advance := chunkSeconds
		if probe, err := c.ffmpeg.Probe(ctx, chunk.Path); err == nil && probe.DurationSeconds > 0 {
			advance = probe.DurationSeconds
		}
		offset += advance
	}
	return stitched, nil
}

// upload sends one file, retrying transient failures with the server's
// Retry-After honored on 429s.
func (c *cloud) upload(ctx context.Context, path string) ([]Segment, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		segments, retryAfter, err := c.uploadOnce(ctx, path)
		if err == nil {
			return segments, nil
		}
		lastErr = err
		if !services.IsRetryable(err) || attempt == c.retries {
			break
		}
		delay := c.retryDelay
		if retryAfter > 0 {
			delay = retryAfter
		}
		c.logger.Debug("transcription upload retrying",
			logging.Int("attempt", attempt),
			logging.String("delay", delay.String()),
			logging.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *cloud) uploadOnce(ctx context.Context, path string) ([]Segment, time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, 0, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, 0, fmt.Errorf("read audio: %w", err)
	}
	fields := map[string]string{
		"model":                      c.model,
		"response_format":            "verbose_json",
		"timestamp_granularities[]":  "segment",
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, 0, fmt.Errorf("build upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, 0, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, &body)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", services.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")),
			fmt.Errorf("%w: %w", services.ErrTransient, errRateLimited)
	}
	if resp.StatusCode >= 500 {
		return nil, 0, fmt.Errorf("%w: transcription api status %d", services.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("transcription api status %d: %s", resp.StatusCode, services.Truncate(string(respBody), 300))
	}

	var payload struct {
		Text     string `json:"text"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}

	segments := make([]Segment, 0, len(payload.Segments))
	for _, segment := range payload.Segments {
		segments = append(segments, Segment{Start: segment.Start, End: segment.End, Text: segment.Text})
	}
	// Some compatible servers answer plain json regardless of the
	// requested format.
	if len(segments) == 0 && payload.Text != "" {
		segments = append(segments, Segment{Text: payload.Text})
	}
	return segments, 0, nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	delay := time.Duration(seconds * float64(time.Second))
	if delay > maxRetryAfter {
		return maxRetryAfter
	}
	return delay
}
