package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"uploadq/internal/config"
	"uploadq/internal/queue"
)

const receiverTimeout = 5 * time.Second

// CheckReceiver verifies that the receiver next to uploadURL answers its
// health endpoint.
func CheckReceiver(ctx context.Context, uploadURL string) Result {
	const name = "Receiver"

	base, err := url.Parse(strings.TrimSpace(uploadURL))
	if err != nil || !base.IsAbs() {
		return Result{Name: name, Detail: fmt.Sprintf("invalid upload url %q", uploadURL)}
	}
	health := base.ResolveReference(&url.URL{Path: "health"})

	checkCtx, cancel := context.WithTimeout(ctx, receiverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, health.String(), nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	resp, err := (&http.Client{Timeout: receiverTimeout}).Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Result{Name: name, Detail: fmt.Sprintf("%s has no health endpoint (not an uploadqd receiver?)", health)}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status == "" {
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
	detail := "Reachable (" + body.Status
	if body.Version != "" {
		detail += ", version " + body.Version
	}
	return Result{Name: name, Passed: true, Detail: detail + ")"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCheckpointStore opens the resume database and counts its checkpoints.
func CheckCheckpointStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Checkpoint store"

	store, err := queue.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.CheckpointDBPath(), err)}
	}
	defer store.Close()

	cps, err := store.List(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.CheckpointDBPath(), err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d resumable upload(s)", len(cps))}
}

// summarizeNetError produces a human-readable summary for connection failures.
func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (receiver unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (receiver unreachable)"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("receiver unreachable (%v)", opErr.Err)
	}
	return err.Error()
}
