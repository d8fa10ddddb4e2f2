package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"uploadq/internal/config"
	"uploadq/internal/logging"
	"uploadq/internal/notifications"
	"uploadq/internal/queue"
	"uploadq/internal/transport"
	"uploadq/internal/workflow"
)

type uploadOptions struct {
	url             string
	concurrency     int
	noChunking      bool
	noResume        bool
	stallTimeout    time.Duration
	maxStallRetries int
	stdinName       string
	noProgress      bool
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files to the configured receiver",
		Long: `Upload files to the configured receiver.

Files are queued in argument order and sent with at most --concurrency
transfers in flight. Large files are sent in parts when the transport
supports it; with resume enabled, an interrupted chunked upload continues
from its last accepted part on the next run. Use "-" to read one file from
standard input.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, ctx, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Receiver upload URL (overrides upload.url)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Maximum simultaneous transfers (overrides upload.concurrency)")
	cmd.Flags().BoolVar(&opts.noChunking, "no-chunking", false, "Send every file in a single request")
	cmd.Flags().BoolVar(&opts.noResume, "no-resume", false, "Ignore and do not record resume checkpoints")
	cmd.Flags().DurationVar(&opts.stallTimeout, "stall-timeout", 0, "Restart transfers without progress for this long; 0 keeps the configured value, negative disables")
	cmd.Flags().IntVar(&opts.maxStallRetries, "max-stall-retries", -1, "Fail a transfer after this many stall restarts; 0 means unlimited")
	cmd.Flags().StringVar(&opts.stdinName, "name", "stdin", "File name used for data read from standard input")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
	return cmd
}

// applyUploadFlags returns a copy of base with command line overrides applied.
func applyUploadFlags(cmd *cobra.Command, base *config.Config, opts uploadOptions) (*config.Config, error) {
	cfg := *base
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Upload.URL = opts.url
	}
	if flags.Changed("concurrency") {
		cfg.Upload.Concurrency = opts.concurrency
	}
	if opts.noChunking {
		cfg.Upload.Chunking = config.ChunkingOff
	}
	if opts.noResume {
		cfg.Upload.Resume = false
	}
	if flags.Changed("stall-timeout") {
		switch {
		case opts.stallTimeout < 0:
			cfg.Upload.StallRetry = false
		case opts.stallTimeout > 0:
			cfg.Upload.StallRetry = true
			cfg.Upload.StallTimeoutMs = int(opts.stallTimeout / time.Millisecond)
		}
	}
	if flags.Changed("max-stall-retries") && opts.maxStallRetries >= 0 {
		cfg.Upload.MaxStallRetries = opts.maxStallRetries
	}
	// The CLI reports every file at the end, so succeeded items stay listed.
	cfg.Upload.AutoClear = false
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func openSources(args []string, stdinName string) ([]queue.Source, error) {
	sources := make([]queue.Source, 0, len(args))
	stdinUsed := false
	for _, arg := range args {
		if arg == "-" {
			if stdinUsed {
				return nil, errors.New("standard input can only be uploaded once")
			}
			stdinUsed = true
			sources = append(sources, queue.NewStreamSource(stdinName, os.Stdin))
			continue
		}
		src, err := queue.NewFileSource(arg)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func runUpload(cmd *cobra.Command, ctx *commandContext, opts uploadOptions, args []string) error {
	base, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	cfg, err := applyUploadFlags(cmd, base, opts)
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	sources, err := openSources(args, opts.stdinName)
	if err != nil {
		return err
	}

	lock, err := acquireLock(cfg)
	if err != nil {
		return err
	}
	defer lock.Unlock() //nolint:errcheck

	tr, err := transport.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	managerOpts := []workflow.Option{workflow.WithLogger(logger)}
	if cfg.Upload.Resume {
		store, err := queue.Open(cfg)
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
		defer store.Close()
		managerOpts = append(managerOpts, workflow.WithCheckpoints(store))
	}

	mgr, err := workflow.New(cfg, tr, managerOpts...)
	if err != nil {
		return err
	}
	defer mgr.Close()

	out := cmd.OutOrStdout()
	view := newProgressView(out, !opts.noProgress && isTerminal(out), shouldColorize(out), cfg.Upload.DisplayNameLength)
	unsubscribe := mgr.Subscribe(view)
	defer unsubscribe()

	logger.Info("upload run started",
		logging.Int("files", len(sources)),
		logging.String("url", cfg.Upload.URL),
		logging.Int("concurrency", cfg.Upload.Concurrency),
		logging.Bool("resume", cfg.Upload.Resume),
	)
	started := time.Now()
	mgr.Enqueue(sources...)

	waitErr := mgr.Wait(cmd.Context())
	if waitErr != nil {
		// Interrupted: cancel outstanding transfers so every item settles.
		mgr.Close()
	}
	view.finish()

	table, summary := view.summary()
	fmt.Fprintln(out, table)
	logger.Info("upload run finished",
		logging.Int("succeeded", summary.succeeded),
		logging.Int("failed", summary.failed),
		logging.Int("cancelled", summary.cancelled),
	)
	notifyRun(cfg, logger, summary, time.Since(started))

	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			return context.Canceled
		}
		return waitErr
	}
	if summary.succeeded != summary.total {
		return fmt.Errorf("%d of %d uploads did not succeed", summary.total-summary.succeeded, summary.total)
	}
	return nil
}

// notifyRun publishes the run outcome. A failed notification never fails the
// run.
func notifyRun(cfg *config.Config, logger *slog.Logger, summary uploadSummary, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.NotificationTimeout())
	defer cancel()
	err := notifications.NewService(cfg).NotifyRunCompleted(ctx, notifications.RunSummary{
		Succeeded: summary.succeeded,
		Failed:    summary.failed,
		Cancelled: summary.cancelled + summary.pending,
		Bytes:     summary.bytes,
		Duration:  elapsed,
		Endpoint:  cfg.Upload.URL,
	})
	if err != nil {
		logging.WarnWithContext(logger, "run notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no ntfy message for this run"),
		)
	}
}
