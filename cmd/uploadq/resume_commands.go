package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"uploadq/internal/queue"
)

func newResumeCommand(ctx *commandContext) *cobra.Command {
	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Inspect and clear resume checkpoints",
	}
	resumeCmd.AddCommand(newResumeListCommand(ctx))
	resumeCmd.AddCommand(newResumeClearCommand(ctx))
	return resumeCmd
}

func newResumeListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List chunked uploads that can be resumed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return withCheckpointStore(cfg, func(store *queue.Store) error {
				cps, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(cps) == 0 {
					fmt.Fprintln(out, "No resumable uploads")
					return nil
				}
				rows := make([][]string, 0, len(cps))
				for _, cp := range cps {
					rows = append(rows, []string{
						truncateName(filepath.Base(cp.Path), cfg.Upload.DisplayNameLength, nameTailLength),
						humanize.IBytes(uint64(cp.Size)),
						fmt.Sprintf("%d/%d", cp.NextPartIndex, cp.PartCount),
						cp.URL,
						humanize.Time(cp.UpdatedAt),
					})
				}
				headers := []string{"File", "Size", "Parts", "Endpoint", "Updated"}
				aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft}
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}
}

func newResumeClearCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget resume checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock, err := acquireLock(cfg)
			if err != nil {
				return err
			}
			defer lock.Unlock() //nolint:errcheck

			return withCheckpointStore(cfg, func(store *queue.Store) error {
				var removed int64
				var err error
				if olderThan > 0 {
					removed, err = store.PruneOlderThan(cmd.Context(), time.Now().Add(-olderThan))
				} else {
					removed, err = store.Clear(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d checkpoint(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove checkpoints not updated within this duration")
	return cmd
}
