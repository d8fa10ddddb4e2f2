package config

const (
	defaultConfigPath       = "~/.config/uploadq/config.toml"
	defaultStateDir         = "~/.local/share/uploadq"
	defaultLogDir           = "~/.local/share/uploadq/logs"
	defaultUploadURL        = "http://127.0.0.1:7490/upload"
	defaultConcurrency      = 5
	defaultPartSize         = 1 << 20
	defaultStallTimeoutMs   = 60000
	defaultAutoClearDelayMs = 3000
	defaultDisplayNameLen   = 50
	defaultServerBind       = "127.0.0.1:7490"
	defaultServerUploadDir  = "~/.local/share/uploadqd/files"
	defaultServerStagingDir = "~/.local/share/uploadqd/staging"
	defaultServerBodyLimit  = "4G"
	defaultStagingMaxAge    = 24
	defaultNtfyTimeout      = 10
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Chunking modes accepted by upload.chunking.
const (
	ChunkingAuto = "auto"
	ChunkingOff  = "off"
)

// Transport kinds accepted by upload.transport.
const (
	TransportHTTP = "http"
	TransportForm = "form"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Upload: Upload{
			URL:               defaultUploadURL,
			Concurrency:       defaultConcurrency,
			Chunking:          ChunkingAuto,
			PartSize:          defaultPartSize,
			Transport:         TransportHTTP,
			Resume:            true,
			StallRetry:        true,
			StallTimeoutMs:    defaultStallTimeoutMs,
			AutoClear:         true,
			AutoClearDelayMs:  defaultAutoClearDelayMs,
			URLFriendlyNames:  true,
			DisplayNameLength: defaultDisplayNameLen,
		},
		Server: Server{
			Bind:               defaultServerBind,
			UploadDir:          defaultServerUploadDir,
			StagingDir:         defaultServerStagingDir,
			StagingMaxAgeHours: defaultStagingMaxAge,
			BodyLimit:          defaultServerBodyLimit,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
			NotifyOnSuccess:       true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
