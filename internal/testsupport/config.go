package testsupport

import (
	"path/filepath"
	"testing"

	"uploadq/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Timers default to values short enough for tests; stall retry and
// auto-clear are disabled unless an option enables them.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Server.UploadDir = filepath.Join(base, "server", "files")
	cfgVal.Server.StagingDir = filepath.Join(base, "server", "staging")
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.Upload.URL = "http://127.0.0.1:0/upload"
	cfgVal.Upload.StallRetry = false
	cfgVal.Upload.AutoClear = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithConcurrency sets the upload concurrency ceiling.
func WithConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.Concurrency = n
	}
}

// WithPartSize sets the chunked part size.
func WithPartSize(size int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.PartSize = size
	}
}

// WithURL points uploads at url.
func WithURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.URL = url
	}
}

// WithStallTimeout enables the stall detector with the given window.
func WithStallTimeout(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.StallRetry = true
		b.cfg.Upload.StallTimeoutMs = ms
	}
}

// WithMaxStallRetries caps watchdog restarts.
func WithMaxStallRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.MaxStallRetries = n
	}
}

// WithAutoClear enables removal of succeeded items after delayMs.
func WithAutoClear(delayMs int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.AutoClear = true
		b.cfg.Upload.AutoClearDelayMs = delayMs
	}
}

// WithChunkingOff disables chunked transfer.
func WithChunkingOff() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.Chunking = config.ChunkingOff
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
