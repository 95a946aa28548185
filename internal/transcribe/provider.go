// Package transcribe turns converted lecture audio into timestamped text
// through one of several speech-to-text providers.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/media/ffmpeg"
)

// Segment is one timestamped span of recognized speech. Providers return
// segments ordered by start; a provider without timing information returns
// a single segment covering the whole file.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// JoinText flattens segments into the plain transcript.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Provider produces a transcript from an audio file.
type Provider interface {
	// Name identifies the provider in logs and stored transcripts.
	Name() string
	// Local reports whether the provider competes for local compute and
	// should run under the tight local admission gate.
	Local() bool
	Transcribe(ctx context.Context, audioPath string) ([]Segment, error)
}

// NewProvider builds the provider selected by model: cloud, remote,
// endpoint, or local. The cloud and remote providers fall back to the
// self-hosted endpoint on persistent rate limiting when one is configured.
func NewProvider(model string, cfg config.Transcription, ff *ffmpeg.FFmpeg, logger *slog.Logger) (Provider, error) {
	switch model {
	case "cloud", "remote":
		provider := newCloud(cfg, ff, model == "cloud", logger)
		if strings.TrimSpace(cfg.EndpointURL) != "" {
			fallback, err := newEndpoint(cfg, logger)
			if err != nil {
				return nil, err
			}
			provider.fallback = fallback
		}
		return provider, nil
	case "endpoint":
		return newEndpoint(cfg, logger)
	case "local":
		return newLocal(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown transcription model %q", model)
}
