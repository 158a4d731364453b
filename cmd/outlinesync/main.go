// Command outlinesync is the offline-first outline/notes sync daemon
// and CLI described by this module's spec: a background `serve` loop
// that drains the local outbox against the server, plus one-shot
// `status`, `flush`, and `full-pull` subcommands for operators and
// scripts, the same way the teacher's `bd` binary layers focused
// subcommands (daemon, status, ...) under one cobra root.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noteweave/outlinesync/internal/config"
)

var (
	configPath string
	serverURL  string
	userKey    string
	dataDir    string
	jsonOutput bool
	verbose    bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "outlinesync",
	Short: "outlinesync - offline-first outline/notes sync engine",
	Long: `outlinesync keeps a local SQLite-backed outbox of edits in sync with
a remote outline/notes server: a background 'serve' loop drains the
outbox, full-pulls the server's article index on reconnect, and
prefetches same-origin media, the way a browser tab would if it never
closed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (optional)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&userKey, "user", "", "user key identifying the local store (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding the per-user store file (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON where supported")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig resolves config.Config from --config plus the persistent
// flag overrides, following the same "flags override file" precedence
// the teacher's main.go applies to viper.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if userKey != "" {
		cfg.UserKey = userKey
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
