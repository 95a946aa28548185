package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var validTranscribeModels = map[string]bool{
	"cloud":    true,
	"remote":   true,
	"endpoint": true,
	"local":    true,
}

// Validate checks semantic correctness of the configuration.
func (c *Config) Validate() error {
	var problems []string

	if !strings.HasPrefix(c.Platform.BaseURL, "http://") && !strings.HasPrefix(c.Platform.BaseURL, "https://") {
		problems = append(problems, fmt.Sprintf("platform.base_url %q must be an http or https URL", c.Platform.BaseURL))
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		problems = append(problems, "paths.api_bind must not be empty")
	}

	if !validTranscribeModels[c.Transcription.DefaultModel] {
		problems = append(problems, fmt.Sprintf("transcription.default_model %q is not one of cloud, remote, endpoint, local", c.Transcription.DefaultModel))
	}

	switch c.Recovery.MissingRawStatus {
	case "pending", "error":
	default:
		problems = append(problems, fmt.Sprintf("recovery.missing_raw_status %q must be pending or error", c.Recovery.MissingRawStatus))
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be console or json", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q must be debug, info, warn, or error", c.Logging.Level))
	}

	gates := []struct {
		name  string
		value int
	}{
		{"workflow.download_gate", c.Workflow.DownloadGate},
		{"workflow.convert_gate", c.Workflow.ConvertGate},
		{"workflow.local_transcribe_gate", c.Workflow.LocalTranscribeGate},
		{"workflow.remote_transcribe_gate", c.Workflow.RemoteTranscribeGate},
		{"workflow.notes_gate", c.Workflow.NotesGate},
		{"workflow.frames_gate", c.Workflow.FramesGate},
		{"workflow.sync_gate", c.Workflow.SyncGate},
	}
	for _, gate := range gates {
		if gate.value < 1 {
			problems = append(problems, fmt.Sprintf("%s must be at least 1", gate.name))
		}
	}

	if _, err := cron.ParseStandard(c.Workflow.SyncSchedule); err != nil {
		problems = append(problems, fmt.Sprintf("workflow.sync_schedule %q is not a valid cron expression: %v", c.Workflow.SyncSchedule, err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
