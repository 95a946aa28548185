package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/services"
)

// endpoint streams audio to a self-hosted transcription service that
// accepts the raw file body and answers {"text": ...}, optionally with a
// "segments" array carrying timestamps.
type endpoint struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func newEndpoint(cfg config.Transcription, logger *slog.Logger) (*endpoint, error) {
	if strings.TrimSpace(cfg.EndpointURL) == "" {
		return nil, fmt.Errorf("%w: transcription.endpoint_url not set", services.ErrConfiguration)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &endpoint{
		url:        cfg.EndpointURL,
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		logger:     logging.NewComponentLogger(logger, "transcribe"),
	}, nil
}

func (e *endpoint) Name() string { return "endpoint" }
func (e *endpoint) Local() bool  { return false }

func (e *endpoint) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, file)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription endpoint status %d: %s", resp.StatusCode, services.Truncate(string(body), 300))
	}

	var payload struct {
		Text     string    `json:"text"`
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Segments) > 0 {
		return payload.Segments, nil
	}
	return []Segment{{Text: payload.Text}}, nil
}
