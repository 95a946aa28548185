// Package ffmpeg wraps the ffmpeg and ffprobe executables for conversion,
// probing, chunking, and frame extraction.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/services"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpeg executes media operations via the system ffmpeg toolchain.
type FFmpeg struct {
	binary      string
	probeBinary string
	logger      *slog.Logger
	run         commandRunner
}

// New constructs an FFmpeg wrapper.
func New(cfg *config.Config, logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FFmpeg{
		binary:      cfg.FFmpegBinary(),
		probeBinary: cfg.FFprobeBinary(),
		logger:      logging.NewComponentLogger(logger, "ffmpeg"),
		run:         runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 400 {
			detail = detail[len(detail)-400:]
		}
		return nil, fmt.Errorf("%w: %s: %v: %s", services.ErrExternalTool, name, err, detail)
	}
	return stdout.Bytes(), nil
}

// Probe describes a media file.
type Probe struct {
	DurationSeconds float64
	FormatName      string
	SizeBytes       int64
	AudioCodec      string
}

// Probe inspects a media file with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Probe, error) {
	out, err := f.run(ctx, f.probeBinary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)
	if err != nil {
		return Probe{}, err
	}

	var payload struct {
		Format struct {
			Duration   string `json:"duration"`
			FormatName string `json:"format_name"`
			Size       string `json:"size"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Probe{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	probe := Probe{FormatName: payload.Format.FormatName}
	probe.DurationSeconds, _ = strconv.ParseFloat(payload.Format.Duration, 64)
	probe.SizeBytes, _ = strconv.ParseInt(payload.Format.Size, 10, 64)
	for _, stream := range payload.Streams {
		if stream.CodecType == "audio" {
			probe.AudioCodec = stream.CodecName
			break
		}
	}
	return probe, nil
}

// ConvertToOpus produces a voice-tuned opus file at dest. Audio that is
// already opus is remuxed with a stream copy instead of being re-encoded.
func (f *FFmpeg) ConvertToOpus(ctx context.Context, src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	codecArgs := []string{"-c:a", "libopus", "-b:a", "32k", "-application", "voip"}
	if probe, err := f.Probe(ctx, src); err == nil && probe.AudioCodec == "opus" {
		codecArgs = []string{"-c:a", "copy"}
		f.logger.Debug("source already opus, copying stream", logging.String("path", src))
	}

	args := append([]string{"-y", "-i", src, "-vn"}, codecArgs...)
	args = append(args, dest)
	if _, err := f.run(ctx, f.binary, args...); err != nil {
		return err
	}
	f.logger.Info("conversion complete", logging.String("path", dest))
	return nil
}

// Chunk is one upload-sized slice of a longer audio file.
type Chunk struct {
	Path         string
	StartSeconds float64
}

// SplitAudio slices src into chunks of chunkSeconds each under destDir,
// returned in playback order with their start offsets.
func (f *FFmpeg) SplitAudio(ctx context.Context, src, destDir string, chunkSeconds float64) ([]Chunk, error) {
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("chunk length must be positive")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk directory: %w", err)
	}

	pattern := filepath.Join(destDir, "chunk-%05d"+filepath.Ext(src))
	_, err := f.run(ctx, f.binary,
		"-y",
		"-i", src,
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(chunkSeconds, 'f', -1, 64),
		"-c", "copy",
		pattern)
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(destDir, "chunk-*"+filepath.Ext(src)))
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	sort.Strings(matches)

	chunks := make([]Chunk, 0, len(matches))
	for i, path := range matches {
		chunks = append(chunks, Chunk{Path: path, StartSeconds: float64(i) * chunkSeconds})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no chunks", services.ErrExternalTool)
	}
	return chunks, nil
}

// ExtractFrame grabs a single still from videoPath at offsetSeconds.
func (f *FFmpeg) ExtractFrame(ctx context.Context, videoPath string, offsetSeconds float64, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create frame directory: %w", err)
	}
	_, err := f.run(ctx, f.binary,
		"-y",
		"-ss", strconv.FormatFloat(offsetSeconds, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		dest)
	return err
}
