package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/types"
)

type fakeOutlineOpsChecker struct {
	hasOps map[string]bool
}

func (f *fakeOutlineOpsChecker) HasOutlineOps(ctx context.Context, articleID string) (bool, error) {
	return f.hasOps[articleID], nil
}

func openTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := kvstore.Open(context.Background(), t.TempDir(), "alice")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestCacheArticleAcceptsFreshServerWrite(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	c := New(store, &fakeOutlineOpsChecker{})

	doc := strPtr(`{"root":[]}`)
	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", Title: "Hello", UpdatedAt: "2024-01-01T00:00:00Z", DocJSON: doc}))

	got, found, err := c.GetCachedArticle(ctx, "a1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Hello", got.Title)
	require.Equal(t, "2024-01-01T00:00:00Z", got.UpdatedAt)
}

func TestCacheArticleSkipsOlderServerView(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	c := New(store, &fakeOutlineOpsChecker{})

	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", Title: "New", UpdatedAt: "2024-02-01T00:00:00Z"}))
	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", Title: "Old", UpdatedAt: "2024-01-01T00:00:00Z"}))

	got, _, err := c.GetCachedArticle(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "New", got.Title)
}

func TestLocalDraftInvariantKeepsDraftWhilePendingOutlineOps(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	checker := &fakeOutlineOpsChecker{hasOps: map[string]bool{"a1": true}}
	c := New(store, checker)

	localDoc := strPtr(`{"root":[{"type":"outlineSection","sectionId":"s1","heading":{},"body":{}}]}`)

	// Seed a local draft directly through CacheArticle at T, then simulate it
	// becoming a draft by a subsequent UpdateCachedDocJSON.
	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", Title: "A", UpdatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, c.UpdateCachedDocJSON(ctx, "a1", localDoc, nil))

	serverDoc := strPtr(`{"root":[]}`)
	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", Title: "A (server)", UpdatedAt: "2024-01-01T00:00:00Z", DocJSON: serverDoc}))

	got, _, err := c.GetCachedArticle(ctx, "a1")
	require.NoError(t, err)
	require.True(t, got.LocalDraft)
	require.Equal(t, *localDoc, *got.DocJSON)
	require.Equal(t, "A (server)", got.Title) // scalar fields still merge in
}

func TestLocalDraftClearsWhenOutboxDrained(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	checker := &fakeOutlineOpsChecker{hasOps: map[string]bool{}}
	c := New(store, checker)

	localDoc := strPtr(`{"root":[]}`)
	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", Title: "A", UpdatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, c.UpdateCachedDocJSON(ctx, "a1", localDoc, nil))

	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", Title: "A", UpdatedAt: "2024-01-01T00:00:00Z", DocJSON: localDoc}))

	got, _, err := c.GetCachedArticle(ctx, "a1")
	require.NoError(t, err)
	require.False(t, got.LocalDraft)
}

func TestUpdateCachedDocJSONPreservesUpdatedAtOnLocalSave(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	c := New(store, &fakeOutlineOpsChecker{})

	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", Title: "A", UpdatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, c.UpdateCachedDocJSON(ctx, "a1", strPtr(`{"root":[]}`), nil))

	got, _, err := c.GetCachedArticle(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "2024-01-01T00:00:00Z", got.UpdatedAt)
	require.True(t, got.LocalDraft)
}

func TestReindexDerivesOutlineSectionsAndMediaRefs(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	c := New(store, &fakeOutlineOpsChecker{})

	doc := strPtr(`{"root":[{"type":"outlineSection","sectionId":"s1",
		"heading":{"content":[{"text":"Title"}]},
		"body":{"content":[{"text":"hello "},{"type":"image","src":"/uploads/a.png"}]}}]}`)
	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", UpdatedAt: "2024-01-01T00:00:00Z", DocJSON: doc}))

	var sectionCount int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM outline_sections WHERE article_id = 'a1'`).Scan(&sectionCount))
	require.Equal(t, 1, sectionCount)

	var refCount int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM media_refs WHERE article_id = 'a1'`).Scan(&refCount))
	require.Equal(t, 1, refCount)
}
