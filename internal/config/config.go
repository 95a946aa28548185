package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Platform identifies the lecture-capture host to sync from.
type Platform struct {
	// BaseURL is the institution's player origin, e.g.
	// https://echo360.org.au.
	BaseURL string `toml:"base_url"`
}

// Paths contains directory and bind address configuration.
type Paths struct {
	LibraryDir string `toml:"library_dir"`
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Download contains configuration for stream retrieval.
type Download struct {
	// SegmentWorkers caps concurrent segment fetches process-wide, shared
	// across all lectures to protect the remote host.
	SegmentWorkers      int `toml:"segment_workers"`
	SegmentRetries      int `toml:"segment_retries"`
	SegmentRetryDelayMS int `toml:"segment_retry_delay_ms"`
	RequestTimeout      int `toml:"request_timeout"`
}

// Browser contains configuration for the headless-browser helper used for
// authenticated stream resolution and course scraping.
type Browser struct {
	Command        string `toml:"command"`
	CookiesFile    string `toml:"cookies_file"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Transcription contains configuration for the speech-to-text providers.
type Transcription struct {
	DefaultModel   string `toml:"default_model"`
	APIKey         string `toml:"api_key"`
	APIURL         string `toml:"api_url"`
	APIModel       string `toml:"api_model"`
	EndpointURL    string `toml:"endpoint_url"`
	LocalCommand   string `toml:"local_command"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
}

// LLM contains connection settings for note generation.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains admission gate sizes and scheduling intervals.
type Workflow struct {
	DownloadGate         int    `toml:"download_gate"`
	ConvertGate          int    `toml:"convert_gate"`
	LocalTranscribeGate  int    `toml:"local_transcribe_gate"`
	RemoteTranscribeGate int    `toml:"remote_transcribe_gate"`
	NotesGate            int    `toml:"notes_gate"`
	FramesGate           int    `toml:"frames_gate"`
	SyncGate             int    `toml:"sync_gate"`
	SyncSchedule         string `toml:"sync_schedule"`
}

// Recovery contains startup repair policy.
type Recovery struct {
	// MissingRawStatus is the audio status applied to lectures found in
	// downloading whose raw file no longer exists: "pending" or "error".
	MissingRawStatus string `toml:"missing_raw_status"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the echo360 daemon.
type Config struct {
	Platform      Platform      `toml:"platform"`
	Paths         Paths         `toml:"paths"`
	Download      Download      `toml:"download"`
	Browser       Browser       `toml:"browser"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	Workflow      Workflow      `toml:"workflow"`
	Recovery      Recovery      `toml:"recovery"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/echo360/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("echo360.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// LibraryDir is created best-effort so the daemon can start when external
// storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.LibraryDir) != "" {
		_ = os.MkdirAll(c.Paths.LibraryDir, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "echo360.db")
}

// LockFilePath returns the daemon single-instance lock location.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.DataDir, "echo360.lock")
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
