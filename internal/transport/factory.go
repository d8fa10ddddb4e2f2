package transport

import (
	"fmt"
	"log/slog"

	"uploadq/internal/config"
)

// FromConfig selects the transport named by upload.transport.
func FromConfig(cfg *config.Config, logger *slog.Logger) (Transport, error) {
	opts := []Option{
		WithHeaders(cfg.Upload.Headers),
		WithTimeout(cfg.RequestTimeout()),
		WithLogger(logger),
	}
	switch cfg.Upload.Transport {
	case config.TransportHTTP, "":
		return NewHTTP(cfg.Upload.URL, opts...), nil
	case config.TransportForm:
		return NewForm(cfg.Upload.URL, opts...), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Upload.Transport)
	}
}
