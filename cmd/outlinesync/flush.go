package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "run one outbox flush pass and exit",
	Long: `flush calls internal/syncengine's FlushOutboxOnce directly, without
starting the scheduler's background loop -- useful for scripts and for
confirming connectivity after a period offline.`,
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

		if err := a.engine.FlushOutboxOnce(rootCtx); err != nil {
			return fmt.Errorf("flush outbox: %w", err)
		}
		if err := a.notes.ReconcileDrained(rootCtx, a.outbox); err != nil {
			return fmt.Errorf("reconcile quick notes: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "flush complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flushCmd)
}
