package mediaprefetch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noteweave/outlinesync/internal/kvstore"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func newFakeTransport() *fakeTransport { return &fakeTransport{fail: map[string]bool{}} }

func (f *fakeTransport) FetchMedia(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	shouldFail := f.fail[url]
	f.mu.Unlock()
	if shouldFail {
		return nil, errors.New("boom")
	}
	return []byte("bytes:" + url), nil
}

func (f *fakeTransport) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

func openTestPrefetcher(t *testing.T, transport Transport) (*Prefetcher, *kvstore.Store) {
	t.Helper()
	store, err := kvstore.Open(context.Background(), t.TempDir(), "alice")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, transport, nil), store
}

func seedAsset(t *testing.T, store *kvstore.Store, url string) {
	t.Helper()
	_, err := store.DB().ExecContext(context.Background(), `INSERT INTO media_assets (url, status) VALUES (?, 'needed')`, url)
	require.NoError(t, err)
}

func assetStatus(t *testing.T, store *kvstore.Store, url string) (status string, failCount int) {
	t.Helper()
	require.NoError(t, store.DB().QueryRowContext(context.Background(), `SELECT status, fail_count FROM media_assets WHERE url = ?`, url).Scan(&status, &failCount))
	return
}

func TestTickFetchesNeededAssetAndMarksOK(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	p, store := openTestPrefetcher(t, transport)
	seedAsset(t, store, "/uploads/a.png")

	require.NoError(t, p.Tick(ctx, true, NetworkHint{}))

	status, _ := assetStatus(t, store, "/uploads/a.png")
	require.Equal(t, "ok", status)
	require.Equal(t, 1, transport.callCount("/uploads/a.png"))
}

func TestTickSkipsNetworkWhenContentCacheHasAsset(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	p, store := openTestPrefetcher(t, transport)
	seedAsset(t, store, "/uploads/a.png")

	content := NewSQLiteContentCache(store)
	require.NoError(t, content.Put(ctx, "/uploads/a.png", []byte("already here")))

	require.NoError(t, p.Tick(ctx, true, NetworkHint{}))

	status, _ := assetStatus(t, store, "/uploads/a.png")
	require.Equal(t, "ok", status)
	require.Equal(t, 0, transport.callCount("/uploads/a.png"), "asset already in content cache must not be refetched")
}

func TestTickDoesNothingWhenOffline(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	p, store := openTestPrefetcher(t, transport)
	seedAsset(t, store, "/uploads/a.png")

	require.NoError(t, p.Tick(ctx, false, NetworkHint{}))

	status, _ := assetStatus(t, store, "/uploads/a.png")
	require.Equal(t, "needed", status)
	require.Equal(t, 0, transport.callCount("/uploads/a.png"))
}

func TestTickDoesNothingWhenPaused(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	p, store := openTestPrefetcher(t, transport)
	seedAsset(t, store, "/uploads/a.png")
	require.NoError(t, p.SetPaused(ctx, true))

	require.NoError(t, p.Tick(ctx, true, NetworkHint{}))

	status, _ := assetStatus(t, store, "/uploads/a.png")
	require.Equal(t, "needed", status)
}

func TestTickMarksFailureAndIncrementsFailCount(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	transport.fail["/uploads/bad.png"] = true
	p, store := openTestPrefetcher(t, transport)
	seedAsset(t, store, "/uploads/bad.png")

	require.NoError(t, p.Tick(ctx, true, NetworkHint{}))

	status, failCount := assetStatus(t, store, "/uploads/bad.png")
	require.Equal(t, "error", status)
	require.Equal(t, 1, failCount)
}

func TestTickSkipsAssetAtFailCountCap(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport()
	p, store := openTestPrefetcher(t, transport)
	_, err := store.DB().ExecContext(ctx, `INSERT INTO media_assets (url, status, fail_count) VALUES (?, 'error', 5)`, "/uploads/capped.png")
	require.NoError(t, err)

	require.NoError(t, p.Tick(ctx, true, NetworkHint{}))
	require.Equal(t, 0, transport.callCount("/uploads/capped.png"))
}

func TestConcurrencyForHint(t *testing.T) {
	require.Equal(t, 1, concurrencyFor(NetworkHint{EffectiveType: "2g"}))
	require.Equal(t, 1, concurrencyFor(NetworkHint{SaveData: true}))
	require.Equal(t, 2, concurrencyFor(NetworkHint{EffectiveType: "3g"}))
	require.Equal(t, 3, concurrencyFor(NetworkHint{EffectiveType: "4g"}))
	require.Equal(t, 3, concurrencyFor(NetworkHint{}))
}
