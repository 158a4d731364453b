package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noteweave/outlinesync/internal/kvstore"
)

func openTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(context.Background(), t.TempDir(), "alice")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestComputeCountsArticlesAndMediaByStatus(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	db := store.DB()

	docJSON := `{"root":[]}`
	_, err := db.ExecContext(ctx, `INSERT INTO articles (id, title, updated_at, doc_json) VALUES (?, ?, ?, ?)`, "a1", "A1", "2024-01-01T00:00:00Z", docJSON)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO articles (id, title, updated_at) VALUES (?, ?, ?)`, "a2", "A2", "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO articles (id, title, updated_at, deleted_at) VALUES (?, ?, ?, ?)`, "a3", "A3", "2024-01-01T00:00:00Z", "2024-02-01T00:00:00Z")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO media_assets (url, status) VALUES (?, 'ok'), (?, 'error'), (?, 'needed')`, "/a.png", "/b.png", "/c.png")
	require.NoError(t, err)

	r, err := New(store)
	require.NoError(t, err)

	s, err := r.Compute(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, s.TotalArticles, "deleted article must not count")
	require.Equal(t, 1, s.ArticlesWithDoc)
	require.Equal(t, 1, s.MediaOK)
	require.Equal(t, 1, s.MediaError)
	require.Equal(t, 1, s.MediaNeeded)
}

func TestComputeCachesLastSummaryForGauges(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	r, err := New(store)
	require.NoError(t, err)

	_, err = r.Compute(ctx)
	require.NoError(t, err)

	r.mu.RLock()
	last := r.last
	r.mu.RUnlock()
	require.Equal(t, 0, last.TotalArticles)
}
