package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"

	"github.com/noteweave/outlinesync/internal/cache"
	"github.com/noteweave/outlinesync/internal/config"
	"github.com/noteweave/outlinesync/internal/embedstore"
	"github.com/noteweave/outlinesync/internal/eventbus"
	"github.com/noteweave/outlinesync/internal/fullpull"
	"github.com/noteweave/outlinesync/internal/httpapi"
	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/mediaprefetch"
	"github.com/noteweave/outlinesync/internal/outbox"
	"github.com/noteweave/outlinesync/internal/quicknotes"
	"github.com/noteweave/outlinesync/internal/scheduler"
	"github.com/noteweave/outlinesync/internal/status"
	"github.com/noteweave/outlinesync/internal/syncengine"
)

// app bundles the wired components every subcommand needs, built once
// from the resolved config.Config — the same "open the store, build
// the dependents, defer Close" shape the teacher's command bodies use
// around storage.Storage, generalized to this module's kvstore.Store.
type app struct {
	cfg       config.Config
	store     *kvstore.Store
	cache     *cache.Cache
	outbox    *outbox.Outbox
	transport *httpapi.Client
	engine    *syncengine.SyncEngine
	puller    *fullpull.Puller
	prefetch  *mediaprefetch.Prefetcher
	notes     *quicknotes.Bridge
	reporter  *status.Reporter
	sched     *scheduler.Scheduler
	nc        *nats.Conn
}

func resolveDataDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".outlinesync"), nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	dir, err := resolveDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}

	store, err := kvstore.Open(ctx, dir, cfg.UserKey)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ob := outbox.New(store)
	c := cache.New(store, ob)
	transport := httpapi.New(cfg.ServerURL, http.DefaultClient)
	embeddings := embedstore.New(store)
	notes := quicknotes.New(store, c)
	reporter, err := status.New(store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build status reporter: %w", err)
	}

	bus := eventbus.New()

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = connectJetStream(bus, cfg.NATSURL)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	engineOpts := syncengine.DefaultOptions()
	if cfg.FlushThrottle > 0 {
		engineOpts.FlushThrottle = cfg.FlushThrottle
	}
	if cfg.StructureThrottle > 0 {
		engineOpts.StructureThrottle = cfg.StructureThrottle
	}

	sched := scheduler.New(nil, nil, nil, notes, ob, bus, scheduler.Options{
		MediaPrefetchInterval: cfg.MediaPrefetchInterval,
		FallbackFlushInterval: cfg.FallbackFlushInterval,
	})

	engine := syncengine.New(store, c, ob, transport, sched.SyncEventSink(), syncengine.RealClock{}, engineOpts)
	puller := fullpull.New(store, c, transport, embeddings, sched.FullPullProgressSink())
	content := mediaprefetch.NewSQLiteContentCache(store)
	prefetch := mediaprefetch.New(store, transport, content)

	sched.SetDependents(engine, puller, prefetch)

	return &app{
		cfg:       cfg,
		store:     store,
		cache:     c,
		outbox:    ob,
		transport: transport,
		engine:    engine,
		puller:    puller,
		prefetch:  prefetch,
		notes:     notes,
		reporter:  reporter,
		sched:     sched,
		nc:        nc,
	}, nil
}

// connectJetStream dials the configured NATS server, ensures the
// durable event stream exists, and attaches the resulting JetStream
// context to bus so Dispatch mirrors every event onto it in addition
// to running in-process handlers (SPEC_FULL.md §11's "optional durable
// publish alongside the in-process dispatch the spec requires").
// Grounded on cmd/bd's own nats.Connect/nc.JetStream() dial sequence
// (e.g. bus_subscribe.go).
func connectJetStream(bus *eventbus.Bus, natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", natsURL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("JetStream context: %w", err)
	}

	if err := eventbus.EnsureStreams(js); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure event stream: %w", err)
	}

	bus.SetJetStream(js)
	slog.Info("NATS JetStream event publishing enabled", "url", natsURL)
	return nc, nil
}

func (a *app) Close() error {
	if a.nc != nil {
		a.nc.Close()
	}
	return a.store.Close()
}
