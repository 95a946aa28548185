// Package browser shells out to the headless-browser helper that performs
// authenticated requests against the lecture platform.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/services"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Browser invokes the external helper command. Every call carries the
// cookie jar so the helper can authenticate as the enrolled user.
type Browser struct {
	command     string
	cookiesFile string
	timeout     time.Duration
	logger      *slog.Logger
	run         commandRunner
}

// New constructs a Browser from configuration.
func New(cfg config.Browser, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Browser{
		command:     cfg.Command,
		cookiesFile: cfg.CookiesFile,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:      logging.NewComponentLogger(logger, "browser"),
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

// Available reports whether the helper command can be found.
func (b *Browser) Available() bool {
	_, err := exec.LookPath(b.command)
	return err == nil
}

func (b *Browser) invoke(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	full := append([]string{"--cookies", b.cookiesFile}, args...)
	started := time.Now()
	out, err := b.run(ctx, b.command, full...)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("helper call complete",
		logging.String("subcommand", args[0]),
		logging.Duration("elapsed", time.Since(started)))
	return out, nil
}

// Warmup visits the platform landing page so the helper can refresh its
// session cookies before real work starts.
func (b *Browser) Warmup(ctx context.Context, baseURL string) error {
	_, err := b.invoke(ctx, "warmup", baseURL)
	return err
}

// FetchJSON performs an authenticated GET through the helper and returns
// the response body.
func (b *Browser) FetchJSON(ctx context.Context, url string) ([]byte, error) {
	return b.invoke(ctx, "fetch", url)
}

// ResolveMedia drives the player page for a lesson and returns the media
// payload the player was given. Used when the API fast path fails.
func (b *Browser) ResolveMedia(ctx context.Context, lessonID, mediaID string) ([]byte, error) {
	return b.invoke(ctx, "media", "--lesson", lessonID, "--media", mediaID)
}
