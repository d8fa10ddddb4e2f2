package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"uploadq/internal/config"
	"uploadq/internal/receiver"
	"uploadq/internal/textutil"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	var urlFlag string

	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Manage files stored on the receiver",
	}
	filesCmd.PersistentFlags().StringVar(&urlFlag, "url", "", "Receiver upload URL (overrides upload.url)")

	clientFor := func(cmd *cobra.Command) (*receiver.Client, *config.Config, error) {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return nil, nil, err
		}
		target := cfg.Upload.URL
		if strings.TrimSpace(urlFlag) != "" {
			target = urlFlag
		}
		client, err := receiver.NewClient(target, cfg.RequestTimeout())
		if err != nil {
			return nil, nil, err
		}
		return client, cfg, nil
	}

	filesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := clientFor(cmd)
			if err != nil {
				return err
			}
			files, err := client.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No files stored")
				return nil
			}
			var total int64
			rows := make([][]string, 0, len(files))
			for _, f := range files {
				total += f.FileSize
				rows = append(rows, []string{
					truncateName(f.FileName, cfg.Upload.DisplayNameLength, nameTailLength),
					humanize.IBytes(uint64(f.FileSize)),
					humanize.Time(f.Modified),
				})
			}
			footer := []string{fmt.Sprintf("%d files", len(files)), humanize.IBytes(uint64(total)), ""}
			fmt.Fprintln(out, renderTableWithFooter([]string{"Name", "Size", "Modified"}, rows, footer,
				[]columnAlignment{alignLeft, alignRight, alignLeft}))
			return nil
		},
	})

	filesCmd.AddCommand(&cobra.Command{
		Use:   "rename <name> <new-name>",
		Short: "Rename a stored file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := clientFor(cmd)
			if err != nil {
				return err
			}
			newName := args[1]
			if cfg.Upload.URLFriendlyNames {
				newName = textutil.URLFriendly(newName)
			}
			if newName == "" {
				return fmt.Errorf("new name %q is empty after cleanup", args[1])
			}
			stored, err := client.Rename(cmd.Context(), args[0], newName)
			if errors.Is(err, receiver.ErrNotFound) {
				return fmt.Errorf("%s is not stored on the receiver", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", args[0], stored)
			return nil
		},
	})

	filesCmd.AddCommand(&cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete stored files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := clientFor(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var missing []string
			for _, name := range args {
				err := client.Delete(cmd.Context(), filepath.Base(name))
				switch {
				case errors.Is(err, receiver.ErrNotFound):
					missing = append(missing, name)
				case err != nil:
					return err
				default:
					fmt.Fprintf(out, "Deleted %s\n", name)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("not stored on the receiver: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	})

	return filesCmd
}
