package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if topic := c.Notifications.NtfyTopic; topic != "" {
		parsed, err := url.Parse(topic)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("notifications.ntfy_topic must be a full http(s) topic URL, got %q", topic)
		}
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.URL != "" {
		parsed, err := url.Parse(c.Upload.URL)
		if err != nil {
			return fmt.Errorf("upload.url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("upload.url must use http or https, got %q", c.Upload.URL)
		}
	}
	if c.Upload.Concurrency <= 0 {
		return errors.New("upload.concurrency must be positive")
	}
	switch c.Upload.Chunking {
	case ChunkingAuto, ChunkingOff:
	default:
		return fmt.Errorf("upload.chunking must be %q or %q, got %q", ChunkingAuto, ChunkingOff, c.Upload.Chunking)
	}
	switch c.Upload.Transport {
	case TransportHTTP, TransportForm:
	default:
		return fmt.Errorf("upload.transport must be %q or %q, got %q", TransportHTTP, TransportForm, c.Upload.Transport)
	}
	if c.Upload.PartSize <= 0 {
		return errors.New("upload.part_size must be positive")
	}
	if c.Upload.RequestTimeoutMs < 0 {
		return errors.New("upload.request_timeout_ms must not be negative")
	}
	if c.Upload.StallRetry && c.Upload.StallTimeoutMs <= 0 {
		return errors.New("upload.stall_timeout_ms must be positive when stall_retry is enabled")
	}
	if c.Upload.AutoClear && c.Upload.AutoClearDelayMs < 0 {
		return errors.New("upload.auto_clear_delay_ms must not be negative")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Bind == "" {
		return errors.New("server.bind must be set")
	}
	if !strings.Contains(c.Server.Bind, ":") {
		return fmt.Errorf("server.bind must be host:port, got %q", c.Server.Bind)
	}
	if c.Server.UploadDir == c.Server.StagingDir {
		return errors.New("server.upload_dir and server.staging_dir must differ")
	}
	return nil
}
