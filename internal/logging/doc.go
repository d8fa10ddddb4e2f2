// Package logging assembles structured slog loggers and formatting helpers used
// by the uploadq CLI and the uploadqd receiver.
//
// It owns the console and JSON handlers, level and output plumbing, and a tee
// that mirrors console output into a JSON log file. Context helpers tag lines
// with queue item IDs, file IDs, and request correlation IDs. A progress
// sampler keeps per-part progress from flooding the log, and a no-op logger
// serves tests and wiring code that cannot fail.
package logging
