package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"uploadq/internal/logging"
	"uploadq/internal/testsupport"
)

func TestStartReceiverServesHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := startReceiver(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("startReceiver: %v", err)
	}
	defer srv.Stop()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	for _, dir := range []string{cfg.Server.UploadDir, cfg.Server.StagingDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
	}
}

func TestPruneStagingRunsAtStartup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.StagingMaxAgeHours = 1
	stale := filepath.Join(cfg.Server.StagingDir, "abandoned")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, err := startReceiver(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("startReceiver: %v", err)
	}
	defer srv.Stop()

	testsupport.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, "stale staging directory to be pruned")
}
