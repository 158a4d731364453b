package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print a point-in-time summary of the local store",
	Long: `status reports article and media counts the way internal/status's
observable gauges do for OTel, but as a one-shot snapshot: total
articles, articles with a cached doc, media by ok/error/needed, and the
outbox's pending op count -- grounded in the teacher's own
"bd daemon status" style subcommands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(rootCtx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		summary, err := a.reporter.Compute(rootCtx)
		if err != nil {
			return fmt.Errorf("compute status: %w", err)
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "articles:        %d (%d with doc)\n", summary.TotalArticles, summary.ArticlesWithDoc)
		fmt.Fprintf(cmd.OutOrStdout(), "media:           %d ok, %d error, %d needed\n", summary.MediaOK, summary.MediaError, summary.MediaNeeded)
		fmt.Fprintf(cmd.OutOrStdout(), "outbox pending:  %d\n", summary.OutboxPending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
