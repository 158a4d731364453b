// Package config loads this module's process-wide persistent settings
// (server URL, user identity, flush/prefetch intervals, log level) from
// defaults, an optional YAML file, and environment overrides, the way
// the teacher's internal/labelmutex and cmd/bd/config.go layer viper
// over a YAML file rather than hand-rolling flag parsing.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"

	"github.com/noteweave/outlinesync/internal/kvstore"
)

// Config is the resolved set of process-wide settings spec.md's
// "process-wide persistent flags" paragraph (§6) gestures at without
// fully specifying — SPEC_FULL.md §12 supplements it with the concrete
// shape a real daemon needs.
type Config struct {
	// ServerURL is the base URL of the outline-notes API this module
	// syncs against.
	ServerURL string `mapstructure:"server_url"`
	// UserKey identifies the local store (sanitized via
	// kvstore.SanitizeUserKey before use).
	UserKey string `mapstructure:"user_key"`
	// DataDir is the directory the per-user kvstore file lives under.
	DataDir string `mapstructure:"data_dir"`

	FlushThrottle         time.Duration `mapstructure:"flush_throttle"`
	StructureThrottle     time.Duration `mapstructure:"structure_throttle"`
	MediaPrefetchInterval time.Duration `mapstructure:"media_prefetch_interval"`
	FallbackFlushInterval time.Duration `mapstructure:"fallback_flush_interval"`

	// LogLevel is one of debug/info/warn/error.
	LogLevel string `mapstructure:"log_level"`

	// NATSURL, if non-empty, enables durable event publishing via
	// internal/eventbus's JetStream mirror. Empty means in-process
	// dispatch only.
	NATSURL string `mapstructure:"nats_url"`
}

const envPrefix = "OUTLINESYNC"

func defaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://localhost:3000")
	v.SetDefault("user_key", "anon")
	v.SetDefault("data_dir", "")
	v.SetDefault("flush_throttle", 2*time.Second)
	v.SetDefault("structure_throttle", 3*time.Second)
	v.SetDefault("media_prefetch_interval", 1200*time.Millisecond)
	v.SetDefault("fallback_flush_interval", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("nats_url", "")
}

// Load resolves a Config from defaults, an optional YAML file at path
// (skipped if empty or missing), and OUTLINESYNC_*-prefixed environment
// variables, in that priority order (env overrides file overrides
// defaults) — the same precedence viper's BindEnv/SetConfigFile give
// the teacher's own config loading.
func Load(path string) (Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.UserKey = kvstore.SanitizeUserKey(cfg.UserKey)
	return cfg, nil
}
