package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/services"
)

type localRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// local shells out to an on-machine transcriber that prints the transcript
// to stdout. It is the only provider that runs under the local compute
// gate.
type local struct {
	command string
	logger  *slog.Logger
	run     localRunner
}

func newLocal(cfg config.Transcription, logger *slog.Logger) *local {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &local{
		command: cfg.LocalCommand,
		logger:  logging.NewComponentLogger(logger, "transcribe"),
		run:     runLocal,
	}
}

func runLocal(ctx context.Context, name string, args ...string) ([]byte, error) {
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

func (l *local) Name() string { return "local" }
func (l *local) Local() bool  { return true }

func (l *local) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	out, err := l.run(ctx, l.command, "--output-format", "txt", audioPath)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return nil, fmt.Errorf("%w: %s produced no output", services.ErrExternalTool, l.command)
	}
	// The txt output carries no timing, so the whole file is one span.
	return []Segment{{Text: text}}, nil
}
