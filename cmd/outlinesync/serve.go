package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the sync scheduler in the foreground until interrupted",
	Long: `serve starts the cooperative scheduler (internal/scheduler) and blocks
until SIGINT/SIGTERM: the outbox-changed, online, and visibility-hidden
triggers drive flush attempts immediately, a fallback ticker covers any
missed signal, and a media-prefetch ticker runs on its own interval.`,
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

		a.sched.SetOnline(rootCtx, true)

		slog.Info("outlinesync serve starting", "server", cfg.ServerURL, "user", cfg.UserKey)
		err = a.sched.Run(rootCtx)
		if rootCtx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
