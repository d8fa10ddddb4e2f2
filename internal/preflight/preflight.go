package preflight

import (
	"context"

	"uploadq/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckDirectoryAccess("State directory", cfg.Paths.StateDir)}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if cfg.Upload.Resume {
		results = append(results, CheckCheckpointStore(ctx, cfg))
	}
	if cfg.Upload.URL == "" {
		results = append(results, Result{Name: "Receiver", Detail: "upload.url is not set"})
	} else {
		results = append(results, CheckReceiver(ctx, cfg.Upload.URL))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
