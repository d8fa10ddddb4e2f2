package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for the uploader.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Upload contains configuration for the upload queue and transfer protocol.
type Upload struct {
	URL               string            `toml:"url"`
	Concurrency       int               `toml:"concurrency"`
	Chunking          string            `toml:"chunking"`
	PartSize          int64             `toml:"part_size"`
	Transport         string            `toml:"transport"`
	RequestTimeoutMs  int               `toml:"request_timeout_ms"`
	Headers           map[string]string `toml:"headers"`
	Resume            bool              `toml:"resume"`
	StallRetry        bool              `toml:"stall_retry"`
	StallTimeoutMs    int               `toml:"stall_timeout_ms"`
	MaxStallRetries   int               `toml:"max_stall_retries"`
	AutoClear         bool              `toml:"auto_clear"`
	AutoClearDelayMs  int               `toml:"auto_clear_delay_ms"`
	URLFriendlyNames  bool              `toml:"url_friendly_names"`
	DisplayNameLength int               `toml:"display_name_length"`
}

// Server contains configuration for the receiving server (uploadqd).
type Server struct {
	Bind               string `toml:"bind"`
	UploadDir          string `toml:"upload_dir"`
	StagingDir         string `toml:"staging_dir"`
	StagingMaxAgeHours int    `toml:"staging_max_age_hours"`
	MinFreeBytes       int64  `toml:"min_free_bytes"`
	BodyLimit          string `toml:"body_limit"`
}

// Notifications contains ntfy settings for run summaries.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyOnSuccess       bool   `toml:"notify_on_success"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for uploadq.
//
// Configuration sections by subsystem:
//   - Paths: state (checkpoint database, lock file) and log directories
//   - Upload: queue concurrency, chunking, stall retry and auto-clear
//   - Server: receiver bind address and storage directories
//   - Notifications: ntfy topic for upload run summaries
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Upload        Upload        `toml:"upload"`
	Server        Server        `toml:"server"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
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
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("uploadq.toml")
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

// EnsureDirectories creates the state and log directories used by the CLI.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EnsureServerDirectories creates the receiver's upload and staging directories.
func (c *Config) EnsureServerDirectories() error {
	for _, dir := range []string{c.Server.UploadDir, c.Server.StagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ChunkingEnabled reports whether chunked transfer may be attempted at all.
func (c *Config) ChunkingEnabled() bool {
	return c.Upload.Chunking != ChunkingOff
}

// StallTimeout returns the stall detector window, or zero when stall retry is disabled.
func (c *Config) StallTimeout() time.Duration {
	if !c.Upload.StallRetry {
		return 0
	}
	return time.Duration(c.Upload.StallTimeoutMs) * time.Millisecond
}

// AutoClearDelay returns the removal delay after success, or zero when auto-clear is disabled.
func (c *Config) AutoClearDelay() time.Duration {
	if !c.Upload.AutoClear {
		return 0
	}
	return time.Duration(c.Upload.AutoClearDelayMs) * time.Millisecond
}

// RequestTimeout returns the per-request transport timeout; zero means none.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Upload.RequestTimeoutMs) * time.Millisecond
}

// StagingMaxAge returns how long an idle chunked upload keeps its staged
// parts on the receiver; zero disables pruning.
func (c *Config) StagingMaxAge() time.Duration {
	return time.Duration(c.Server.StagingMaxAgeHours) * time.Hour
}

// NotificationTimeout returns the ntfy request timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// CheckpointDBPath returns the location of the resume checkpoint database.
func (c *Config) CheckpointDBPath() string {
	return filepath.Join(c.Paths.StateDir, "checkpoints.db")
}

// LockPath returns the location of the single-uploader lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "uploadq.lock")
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
