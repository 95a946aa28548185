// Package frames extracts video stills at the moments flagged during note
// generation, fetching only the HLS segments that contain them.
package frames

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/hananf11/echo360/internal/download"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/media/ffmpeg"
	"github.com/hananf11/echo360/internal/services"
	"github.com/hananf11/echo360/internal/store"
	"github.com/hananf11/echo360/internal/streams"
)

type frameGrabber interface {
	ExtractFrame(ctx context.Context, videoPath string, offsetSeconds float64, dest string) error
}

// Extractor downloads targeted video segments and grabs stills from them.
type Extractor struct {
	client *download.Client
	grab   frameGrabber
	logger *slog.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(client *download.Client, ff *ffmpeg.FFmpeg, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{
		client: client,
		grab:   ff,
		logger: logging.NewComponentLogger(logger, "frames"),
	}
}

// Target locates one requested timestamp inside the segment list.
type Target struct {
	Timestamp     store.FrameTimestamp
	SegmentIndex  int
	OffsetSeconds float64
}

// MapTimestamps places each timestamp into the segment that contains it.
// Timestamps beyond the end of the recording are clamped into the final
// segment.
func MapTimestamps(segments []streams.Segment, timestamps []store.FrameTimestamp) []Target {
	if len(segments) == 0 || len(timestamps) == 0 {
		return nil
	}

	starts := make([]float64, len(segments))
	var cursor float64
	for i, segment := range segments {
		starts[i] = cursor
		cursor += segment.Duration
	}
	total := cursor

	targets := make([]Target, 0, len(timestamps))
	for _, ts := range timestamps {
		at := ts.TimeSeconds
		if at < 0 {
			continue
		}
		if at >= total {
			last := len(segments) - 1
			targets = append(targets, Target{
				Timestamp:     ts,
				SegmentIndex:  last,
				OffsetSeconds: segments[last].Duration / 2,
			})
			continue
		}
		index := sort.Search(len(starts), func(i int) bool { return starts[i] > at }) - 1
		targets = append(targets, Target{
			Timestamp:     ts,
			SegmentIndex:  index,
			OffsetSeconds: at - starts[index],
		})
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Timestamp.TimeSeconds < targets[j].Timestamp.TimeSeconds
	})
	return targets
}

// Extract produces one still per timestamp under destDir. A lecture with a
// video manifest has the manifest resolved to segments with only the
// segments containing a requested moment fetched; a direct capture file is
// seeked in place by URL.
func (e *Extractor) Extract(ctx context.Context, source *streams.Source, timestamps []store.FrameTimestamp, destDir string) ([]store.Frame, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: lecture has no resolved stream", services.ErrNoMedia)
	}
	if len(timestamps) == 0 {
		return nil, nil
	}
	if source.VideoManifestURL != "" {
		return e.extractFromManifest(ctx, source.VideoManifestURL, timestamps, destDir)
	}
	if source.Kind == streams.KindDirect && source.HasVideo && source.URL != "" {
		return e.extractDirect(ctx, source.URL, timestamps, destDir)
	}
	return nil, fmt.Errorf("%w: lecture has no video stream", services.ErrNoMedia)
}

// extractDirect seeks into the capture file by URL, one ffmpeg run per
// still.
func (e *Extractor) extractDirect(ctx context.Context, videoURL string, timestamps []store.FrameTimestamp, destDir string) ([]store.Frame, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}

	ordered := make([]store.FrameTimestamp, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.TimeSeconds >= 0 {
			ordered = append(ordered, ts)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].TimeSeconds < ordered[j].TimeSeconds })

	result := make([]store.Frame, 0, len(ordered))
	for _, ts := range ordered {
		dest := filepath.Join(destDir, fmt.Sprintf("frame-%06d.jpg", int(ts.TimeSeconds)))
		if err := e.grab.ExtractFrame(ctx, videoURL, ts.TimeSeconds, dest); err != nil {
			return nil, fmt.Errorf("extract frame at %.0fs: %w", ts.TimeSeconds, err)
		}
		result = append(result, store.Frame{
			TimeSeconds: ts.TimeSeconds,
			Reason:      ts.Reason,
			Path:        dest,
		})
	}

	e.logger.Info("frames extracted from direct source", logging.Int("frames", len(result)))
	return result, nil
}

func (e *Extractor) extractFromManifest(ctx context.Context, videoManifestURL string, timestamps []store.FrameTimestamp, destDir string) ([]store.Frame, error) {
	segments, err := e.client.ResolveSegments(ctx, videoManifestURL)
	if err != nil {
		return nil, err
	}
	targets := MapTimestamps(segments, timestamps)
	if len(targets) == 0 {
		return nil, nil
	}

	needed := make(map[int]struct{}, len(targets))
	for _, target := range targets {
		needed[target.SegmentIndex] = struct{}{}
	}
	indexes := make([]int, 0, len(needed))
	for index := range needed {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	wanted := make([]streams.Segment, len(indexes))
	for i, index := range indexes {
		wanted[i] = segments[index]
	}
	payloads, err := e.client.FetchSegments(ctx, wanted, nil)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "frames-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	segmentFiles := make(map[int]string, len(indexes))
	for i, index := range indexes {
		path := filepath.Join(workDir, fmt.Sprintf("seg-%05d.ts", index))
		if err := os.WriteFile(path, payloads[i], 0o644); err != nil {
			return nil, fmt.Errorf("write segment: %w", err)
		}
		segmentFiles[index] = path
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}

	result := make([]store.Frame, 0, len(targets))
	for _, target := range targets {
		dest := filepath.Join(destDir, fmt.Sprintf("frame-%06d.jpg", int(target.Timestamp.TimeSeconds)))
		if err := e.grab.ExtractFrame(ctx, segmentFiles[target.SegmentIndex], target.OffsetSeconds, dest); err != nil {
			return nil, fmt.Errorf("extract frame at %.0fs: %w", target.Timestamp.TimeSeconds, err)
		}
		result = append(result, store.Frame{
			TimeSeconds: target.Timestamp.TimeSeconds,
			Reason:      target.Timestamp.Reason,
			Path:        dest,
		})
	}

	e.logger.Info("frames extracted",
		logging.Int("frames", len(result)),
		logging.Int("segments_fetched", len(indexes)),
		logging.Int("segments_total", len(segments)))
	return result, nil
}
