package config

import (
	"os"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return err
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Browser.CookiesFile, err = expandPath(c.Browser.CookiesFile); err != nil {
		return err
	}

	c.Platform.BaseURL = strings.TrimRight(strings.TrimSpace(c.Platform.BaseURL), "/")
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Transcription.DefaultModel = strings.ToLower(strings.TrimSpace(c.Transcription.DefaultModel))
	c.Recovery.MissingRawStatus = strings.ToLower(strings.TrimSpace(c.Recovery.MissingRawStatus))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if c.Transcription.APIKey == "" {
		c.Transcription.APIKey = os.Getenv("WHISPER_API_KEY")
	}
	if c.Transcription.APIKey == "" {
		c.Transcription.APIKey = os.Getenv("GROQ_API_KEY")
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}

	if c.Download.SegmentWorkers <= 0 {
		c.Download.SegmentWorkers = defaultSegmentWorkers
	}
	if c.Download.SegmentRetries <= 0 {
		c.Download.SegmentRetries = defaultSegmentRetries
	}
	if c.Download.SegmentRetryDelayMS < 0 {
		c.Download.SegmentRetryDelayMS = defaultSegmentRetryDelayMS
	}
	if c.Download.RequestTimeout <= 0 {
		c.Download.RequestTimeout = defaultRequestTimeout
	}
	if c.Browser.TimeoutSeconds <= 0 {
		c.Browser.TimeoutSeconds = defaultBrowserTimeout
	}
	if c.Transcription.MaxUploadBytes <= 0 {
		c.Transcription.MaxUploadBytes = defaultMaxUploadBytes
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if strings.TrimSpace(c.Workflow.SyncSchedule) == "" {
		c.Workflow.SyncSchedule = defaultSyncSchedule
	}
	return nil
}
