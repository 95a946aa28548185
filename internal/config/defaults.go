package config

const (
	defaultPlatformBaseURL     = "https://echo360.org.au"
	defaultLibraryDir          = "~/echo360-library"
	defaultDataDir             = "~/.local/share/echo360"
	defaultLogDir              = "~/.local/share/echo360/logs"
	defaultAPIBind             = "127.0.0.1:8560"
	defaultSegmentWorkers      = 30
	defaultSegmentRetries      = 3
	defaultSegmentRetryDelayMS = 1000
	defaultRequestTimeout      = 60
	defaultBrowserCommand      = "echo360-browser"
	defaultCookiesFile         = "~/.config/echo360/cookies.json"
	defaultBrowserTimeout      = 300
	defaultTranscribeModel     = "cloud"
	defaultWhisperAPIURL       = "https://api.groq.com/openai/v1/audio/transcriptions"
	defaultWhisperAPIModel     = "whisper-large-v3-turbo"
	defaultLocalCommand        = "faster-whisper"
	defaultMaxUploadBytes      = 25 * 1024 * 1024
	defaultLLMBaseURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel            = "meta-llama/llama-3.3-70b-instruct"
	defaultLLMTimeoutSeconds   = 120
	defaultSyncSchedule        = "0 */6 * * *"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultMissingRawStatus    = "pending"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Platform: Platform{
			BaseURL: defaultPlatformBaseURL,
		},
		Paths: Paths{
			LibraryDir: defaultLibraryDir,
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Download: Download{
			SegmentWorkers:      defaultSegmentWorkers,
			SegmentRetries:      defaultSegmentRetries,
			SegmentRetryDelayMS: defaultSegmentRetryDelayMS,
			RequestTimeout:      defaultRequestTimeout,
		},
		Browser: Browser{
			Command:        defaultBrowserCommand,
			CookiesFile:    defaultCookiesFile,
			TimeoutSeconds: defaultBrowserTimeout,
		},
		Transcription: Transcription{
			DefaultModel:   defaultTranscribeModel,
			APIURL:         defaultWhisperAPIURL,
			APIModel:       defaultWhisperAPIModel,
			LocalCommand:   defaultLocalCommand,
			MaxUploadBytes: defaultMaxUploadBytes,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Workflow: Workflow{
			DownloadGate:         3,
			ConvertGate:          2,
			LocalTranscribeGate:  1,
			RemoteTranscribeGate: 4,
			NotesGate:            4,
			FramesGate:           2,
			SyncGate:             2,
			SyncSchedule:         defaultSyncSchedule,
		},
		Recovery: Recovery{
			MissingRawStatus: defaultMissingRawStatus,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
