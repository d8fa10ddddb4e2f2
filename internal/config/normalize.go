package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeUpload()
	if err := c.normalizeServer(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if value, ok := os.LookupEnv("UPLOADQ_NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = strings.TrimSpace(value)
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeout
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeUpload() {
	c.Upload.URL = strings.TrimSpace(c.Upload.URL)
	if value, ok := os.LookupEnv("UPLOADQ_URL"); ok && strings.TrimSpace(value) != "" {
		c.Upload.URL = strings.TrimSpace(value)
	}
	c.Upload.Chunking = strings.ToLower(strings.TrimSpace(c.Upload.Chunking))
	if c.Upload.Chunking == "" {
		c.Upload.Chunking = ChunkingAuto
	}
	c.Upload.Transport = strings.ToLower(strings.TrimSpace(c.Upload.Transport))
	if c.Upload.Transport == "" {
		c.Upload.Transport = TransportHTTP
	}
	if c.Upload.PartSize == 0 {
		c.Upload.PartSize = defaultPartSize
	}
	if c.Upload.StallTimeoutMs == 0 {
		c.Upload.StallTimeoutMs = defaultStallTimeoutMs
	}
	if c.Upload.MaxStallRetries < 0 {
		c.Upload.MaxStallRetries = 0
	}
	if c.Upload.DisplayNameLength <= 0 {
		c.Upload.DisplayNameLength = defaultDisplayNameLen
	}
	if len(c.Upload.Headers) > 0 {
		headers := make(map[string]string, len(c.Upload.Headers))
		for key, value := range c.Upload.Headers {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			headers[http.CanonicalHeaderKey(key)] = strings.TrimSpace(value)
		}
		c.Upload.Headers = headers
	}
}

func (c *Config) normalizeServer() error {
	var err error
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
	if strings.TrimSpace(c.Server.UploadDir) == "" {
		c.Server.UploadDir = defaultServerUploadDir
	}
	if c.Server.UploadDir, err = expandPath(c.Server.UploadDir); err != nil {
		return fmt.Errorf("server.upload_dir: %w", err)
	}
	if strings.TrimSpace(c.Server.StagingDir) == "" {
		c.Server.StagingDir = defaultServerStagingDir
	}
	if c.Server.StagingDir, err = expandPath(c.Server.StagingDir); err != nil {
		return fmt.Errorf("server.staging_dir: %w", err)
	}
	c.Server.BodyLimit = strings.TrimSpace(c.Server.BodyLimit)
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = defaultServerBodyLimit
	}
	if c.Server.StagingMaxAgeHours < 0 {
		c.Server.StagingMaxAgeHours = 0
	}
	if c.Server.MinFreeBytes < 0 {
		c.Server.MinFreeBytes = 0
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	if value, ok := os.LookupEnv("UPLOADQ_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
