package main

import (
	"context"
	"log/slog"
	"time"

	"uploadq/internal/config"
	"uploadq/internal/logging"
	"uploadq/internal/receiver"
)

const pruneInterval = time.Hour

func startReceiver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*receiver.Server, error) {
	if err := cfg.EnsureServerDirectories(); err != nil {
		return nil, err
	}
	srv, err := receiver.NewServer(cfg, version, logger)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	if maxAge := cfg.StagingMaxAge(); maxAge > 0 {
		go pruneStaging(ctx, srv.Store(), maxAge, pruneInterval, logger)
	}
	return srv, nil
}

// pruneStaging drops abandoned chunked uploads once at startup and then on
// every tick until ctx is done.
func pruneStaging(ctx context.Context, store *receiver.Store, maxAge, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res := store.PruneStaging(ctx, maxAge)
		if len(res.Removed) > 0 || len(res.Errors) > 0 {
			logger.Info("staging pruned",
				logging.Int("removed", len(res.Removed)),
				logging.Int("errors", len(res.Errors)),
				logging.String(logging.FieldEventType, "staging_prune"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
