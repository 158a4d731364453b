package uploads

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noteweave/outlinesync/internal/kvstore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := kvstore.Open(context.Background(), t.TempDir(), "alice")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	token, err := s.Put(ctx, "art1", "image", []byte("bytes"), "image/png", "a.png")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	u, found, err := s.Get(ctx, token)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "art1", u.ArticleID)
	require.Equal(t, []byte("bytes"), u.Blob)
	require.Equal(t, StatusPending, u.Status)
}

func TestForArticleReturnsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tok1, err := s.Put(ctx, "art1", "image", []byte("a"), "image/png", "a.png")
	require.NoError(t, err)
	tok2, err := s.Put(ctx, "art1", "image", []byte("b"), "image/png", "b.png")
	require.NoError(t, err)

	list, err := s.ForArticle(ctx, "art1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, tok1, list[0].Token)
	require.Equal(t, tok2, list[1].Token)
}

func TestMarkErrorThenPurge(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	token, err := s.Put(ctx, "art1", "image", []byte("a"), "image/png", "a.png")
	require.NoError(t, err)

	require.NoError(t, s.MarkError(ctx, token, "rejected"))
	u, found, err := s.Get(ctx, token)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, StatusError, u.Status)
	require.Equal(t, "rejected", u.ErrorMessage)

	require.NoError(t, s.Purge(ctx, token))
	_, found, err = s.Get(ctx, token)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPutGeneratesDistinctTokensForConcurrentCaptures(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tok1, err := s.Put(ctx, "art1", "image", []byte("same"), "image/png", "same.png")
	require.NoError(t, err)
	tok2, err := s.Put(ctx, "art1", "image", []byte("same"), "image/png", "same.png")
	require.NoError(t, err)
	require.NotEqual(t, tok1, tok2)
}
