package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fullPullCmd = &cobra.Command{
	Use:   "full-pull",
	Short: "run one full-pull reconciliation sweep and exit",
	Long: `full-pull calls internal/fullpull's Run directly: lists every server
article, compares each row's updatedAt with the cached copy's, and
pulls anything stale or missing. Runs the same sweep the scheduler
triggers automatically on a false->true online transition.`,
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

		if err := a.puller.Run(rootCtx); err != nil {
			return fmt.Errorf("full pull: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "full pull complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fullPullCmd)
}
