// Package notes generates structured study notes from lecture transcripts
// via an OpenAI-compatible chat completion API.
package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/services"
	"github.com/hananf11/echo360/internal/store"
	"github.com/hananf11/echo360/internal/textutil"
)

// Result is the structured output of one generation call.
type Result struct {
	Title           string
	Notes           string
	FrameTimestamps []store.FrameTimestamp
}

// Generator calls the configured chat completion endpoint.
type Generator struct {
	cfg        config.LLM
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGenerator constructs a Generator.
func NewGenerator(cfg config.LLM, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Generator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		logger:     logging.NewComponentLogger(logger, "notes"),
	}
}

const systemPrompt = `You turn university lecture transcripts into study notes.
Respond with a single JSON object and nothing else, using these keys:
  "title": a concise descriptive title for the lecture,
  "notes": thorough markdown study notes covering every topic discussed,
  "frame_timestamps": an array of moments where the lecturer refers to
    something shown on screen, each as {"time": <seconds from start>,
    "reason": <short description of what is being shown>}.
Transcript lines may be prefixed with [minutes:seconds] playback offsets;
use them to pick accurate frame_timestamps times.
Only include frame_timestamps entries when the transcript clearly refers to
visual material. An empty array is valid.`

// FormatTranscript renders timestamped segments as one "[M:SS] text" line
// each, giving the model real playback times to cite in frame_timestamps.
func FormatTranscript(segments []store.TranscriptSegment) string {
	var b strings.Builder
	for _, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", textutil.FormatTimestamp(segment.Start), text)
	}
	return b.String()
}

func buildUserPrompt(courseName, lectureTitle, lectureDate, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Course: %s\n", courseName)
	fmt.Fprintf(&b, "Lecture: %s\n", lectureTitle)
	if lectureDate != "" {
		fmt.Fprintf(&b, "Date: %s\n", lectureDate)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

// Generate produces notes for one transcript.
func (g *Generator) Generate(ctx context.Context, courseName, lectureTitle, lectureDate, transcript string) (*Result, error) {
	if g.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: llm api key not set", services.ErrConfiguration)
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("empty transcript")
	}

	payload := map[string]any{
		"model": g.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildUserPrompt(courseName, lectureTitle, lectureDate, transcript)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	if g.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", g.cfg.Referer)
	}
	if g.cfg.Title != "" {
		req.Header.Set("X-Title", g.cfg.Title)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: llm status %d", services.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm status %d: %s", resp.StatusCode, services.Truncate(string(respBody), 300))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}
	return ParseResult(completion.Choices[0].Message.Content)
}

// ParseResult decodes the model's JSON answer, tolerating markdown fences
// and leading prose around the object.
func ParseResult(content string) (*Result, error) {
	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "{"); start > 0 {
		trimmed = trimmed[start:]
	}
	if end := strings.LastIndex(trimmed, "}"); end >= 0 {
		trimmed = trimmed[:end+1]
	}

	var payload struct {
		Title           string                 `json:"title"`
		Notes           string                 `json:"notes"`
		FrameTimestamps []store.FrameTimestamp `json:"frame_timestamps"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, fmt.Errorf("decode notes payload: %w", err)
	}
	if strings.TrimSpace(payload.Notes) == "" {
		return nil, fmt.Errorf("notes payload missing notes text")
	}

	timestamps := payload.FrameTimestamps[:0]
	for _, ts := range payload.FrameTimestamps {
		if ts.TimeSeconds >= 0 {
			timestamps = append(timestamps, ts)
		}
	}
	return &Result{
		Title:           strings.TrimSpace(payload.Title),
		Notes:           payload.Notes,
		FrameTimestamps: timestamps,
	}, nil
}
