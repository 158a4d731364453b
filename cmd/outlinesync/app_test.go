package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noteweave/outlinesync/internal/config"
	"github.com/noteweave/outlinesync/internal/eventbus"
)

func TestResolveDataDirUsesExplicitDirWhenSet(t *testing.T) {
	dir, err := resolveDataDir("/tmp/explicit-dir")
	require.NoError(t, err)
	require.Equal(t, "/tmp/explicit-dir", dir)
}

func TestResolveDataDirFallsBackToHomeDotDir(t *testing.T) {
	dir, err := resolveDataDir("")
	require.NoError(t, err)
	require.Equal(t, ".outlinesync", filepath.Base(dir))
}

func TestNewAppWiresComponentsAndComputesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := config.Config{
		ServerURL: srv.URL,
		UserKey:   "alice",
		DataDir:   t.TempDir(),
	}

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	summary, err := a.reporter.Compute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.TotalArticles)
	require.Equal(t, 0, summary.OutboxPending)

	require.Nil(t, a.nc)
}

func TestConnectJetStreamFailsFastForUnreachableURL(t *testing.T) {
	bus := eventbus.New()

	done := make(chan struct{})
	go func() {
		_, err := connectJetStream(bus, "nats://127.0.0.1:1")
		require.Error(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connectJetStream did not return for an unreachable NATS URL within 5s")
	}

	require.False(t, bus.JetStreamEnabled())
}
