// Package config loads, normalizes, and validates uploadq configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// UPLOADQ_URL and UPLOADQ_LOG_LEVEL. The Config type centralizes every knob the
// uploader CLI and the receiving daemon need: queue concurrency, chunking,
// stall retry, auto-clear, and receiver storage directories.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
