package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"uploadq/internal/notifications"
	"uploadq/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var urlFlag string
	var notify bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the receiver endpoint and local state before uploading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := *base
			if strings.TrimSpace(urlFlag) != "" {
				cfg.Upload.URL = strings.TrimSpace(urlFlag)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			results := preflight.RunAll(cmd.Context(), &cfg)

			if notify {
				result := preflight.Result{Name: "Notifications"}
				switch {
				case cfg.Notifications.NtfyTopic == "":
					result.Detail = "notifications.ntfy_topic is not set"
				default:
					if err := notifications.NewService(&cfg).TestNotification(cmd.Context()); err != nil {
						result.Detail = err.Error()
					} else {
						result.Passed = true
						result.Detail = "test message sent"
					}
				}
				results = append(results, result)
			}

			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if !preflight.AllPassed(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&urlFlag, "url", "", "Receiver upload URL (overrides upload.url)")
	cmd.Flags().BoolVar(&notify, "notify", false, "Also send a test ntfy notification")
	return cmd
}
