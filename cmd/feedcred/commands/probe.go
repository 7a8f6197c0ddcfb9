package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/feedcred/internal/config"
	"github.com/systmms/feedcred/internal/resolve"
)

func NewProbeCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <feed-url>",
		Short: "Check whether a feed allows anonymous access",
		Long: `Send an anonymous GET to the feed and report whether it was accepted.

A response below 500 that is not 401 or 403 counts as accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cfg); err != nil {
				return err
			}

			endpoint := args[0]
			ok, err := newProber(cfg).Probe(cmd.Context(), endpoint, nil)
			if err != nil {
				return fmt.Errorf("probe failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if ok {
				_, _ = fmt.Fprintf(out, "%s: anonymous access allowed\n", endpoint)
			} else {
				_, _ = fmt.Fprintf(out, "%s: authentication required\n", endpoint)
			}
			if resolve.IsUploadEndpoint(endpoint) {
				_, _ = fmt.Fprintln(out, "Note: upload endpoints always request credentials")
			}
			return nil
		},
	}

	return cmd
}
