package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"uploadq/internal/config"
	"uploadq/internal/logging"
)

// version is set at build time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg, "uploadqd")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	srv, err := startReceiver(ctx, cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "receiver failed to start", "receiver_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check server.bind and server.upload_dir"),
		)
		log.Fatalf("start receiver: %v", err)
	}

	<-ctx.Done()
	srv.Stop()
	logger.Info("uploadqd shutting down")
}
