package fullpull

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noteweave/outlinesync/internal/cache"
	"github.com/noteweave/outlinesync/internal/httpapi"
	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/outbox"
	"github.com/noteweave/outlinesync/internal/types"
)

type noopSleeper struct{}

func (noopSleeper) Sleep(time.Duration) {}

type fakeTransport struct {
	mu sync.Mutex

	rows          []types.IndexRow
	articlesByID  map[string]*httpapi.ArticleResponse
	embeddingsGet func(articleID string) (*httpapi.EmbeddingsResponse, error)

	getArticleCalls []string
}

func (f *fakeTransport) ListArticles(ctx context.Context) ([]types.IndexRow, error) {
	return f.rows, nil
}

func (f *fakeTransport) GetArticle(ctx context.Context, id string) (*httpapi.ArticleResponse, error) {
	f.mu.Lock()
	f.getArticleCalls = append(f.getArticleCalls, id)
	f.mu.Unlock()
	if a, ok := f.articlesByID[id]; ok {
		return a, nil
	}
	return &httpapi.ArticleResponse{ID: id}, nil
}

func (f *fakeTransport) GetEmbeddings(ctx context.Context, articleID string, ids []string) (*httpapi.EmbeddingsResponse, error) {
	if f.embeddingsGet != nil {
		return f.embeddingsGet(articleID)
	}
	return &httpapi.EmbeddingsResponse{}, nil
}

func (f *fakeTransport) calledFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.getArticleCalls {
		if c == id {
			n++
		}
	}
	return n
}

type fakeEmbeddingsUpserter struct {
	mu   sync.Mutex
	byID map[string][]types.Embedding
}

func newFakeEmbeddingsUpserter() *fakeEmbeddingsUpserter {
	return &fakeEmbeddingsUpserter{byID: map[string][]types.Embedding{}}
}

func (u *fakeEmbeddingsUpserter) UpsertArticleEmbeddings(ctx context.Context, articleID string, embeddings []types.Embedding) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.byID[articleID] = embeddings
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	phases []Phase
}

func (s *recordingSink) Emit(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, p.Phase)
}

func (s *recordingSink) all() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Phase(nil), s.phases...)
}

func openTestPuller(t *testing.T, transport *fakeTransport, upserter EmbeddingsUpserter, events ProgressSink) (*Puller, *kvstore.Store, *cache.Cache) {
	t.Helper()
	store, err := kvstore.Open(context.Background(), t.TempDir(), "alice")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ob := outbox.New(store)
	c := cache.New(store, ob)
	p := New(store, c, transport, upserter, events, WithSleeper(noopSleeper{}))
	return p, store, c
}

func TestRunSkipsFetchWhenUpdatedAtUnchanged(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{
		rows: []types.IndexRow{{ID: "a1", UpdatedAt: "2024-01-01T00:00:00Z"}},
	}
	events := &recordingSink{}
	p, _, c := openTestPuller(t, transport, nil, events)

	docJSON := `{"root":[]}`
	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", UpdatedAt: "2024-01-01T00:00:00Z", DocJSON: &docJSON}))

	require.NoError(t, p.Run(ctx))
	require.Equal(t, 0, transport.calledFor("a1"), "unchanged article must not be refetched")
	require.Equal(t, []Phase{PhaseIndex, PhaseArticles, PhaseDone}, events.all())
}

func TestRunFetchesWhenUpdatedAtChanged(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{
		rows: []types.IndexRow{{ID: "a1", UpdatedAt: "2024-02-01T00:00:00Z"}},
		articlesByID: map[string]*httpapi.ArticleResponse{
			"a1": {ID: "a1", Title: "New title", UpdatedAt: "2024-02-01T00:00:00Z", DocJSON: []byte(`{"root":[]}`)},
		},
	}
	p, _, c := openTestPuller(t, transport, nil, nil)

	oldDoc := `{"root":[]}`
	require.NoError(t, c.CacheArticle(ctx, types.Article{ID: "a1", UpdatedAt: "2024-01-01T00:00:00Z", DocJSON: &oldDoc}))

	require.NoError(t, p.Run(ctx))
	require.Equal(t, 1, transport.calledFor("a1"))

	art, found, err := c.GetCachedArticle(ctx, "a1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "New title", art.Title)
	require.Equal(t, "2024-02-01T00:00:00Z", art.UpdatedAt)
}

func TestRunFetchesUncachedArticleAndUpsertsEmbeddings(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{
		rows: []types.IndexRow{{ID: "a2", UpdatedAt: "2024-03-01T00:00:00Z"}},
		articlesByID: map[string]*httpapi.ArticleResponse{
			"a2": {ID: "a2", Title: "Brand new", UpdatedAt: "2024-03-01T00:00:00Z", DocJSON: []byte(`{"root":[]}`)},
		},
		embeddingsGet: func(articleID string) (*httpapi.EmbeddingsResponse, error) {
			return &httpapi.EmbeddingsResponse{Embeddings: []httpapi.EmbeddingItem{
				{SectionID: "s1", Embedding: []float32{0.6, 0.8}},
			}}, nil
		},
	}
	upserter := newFakeEmbeddingsUpserter()
	p, _, c := openTestPuller(t, transport, upserter, nil)

	require.NoError(t, p.Run(ctx))

	art, found, err := c.GetCachedArticle(ctx, "a2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Brand new", art.Title)

	upserter.mu.Lock()
	embs := upserter.byID["a2"]
	upserter.mu.Unlock()
	require.Len(t, embs, 1)
	require.Equal(t, "s1", embs[0].SectionID)
}

func TestConcurrentRunsShareOneSweep(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{
		rows: []types.IndexRow{{ID: "a1", UpdatedAt: "2024-01-01T00:00:00Z"}},
		articlesByID: map[string]*httpapi.ArticleResponse{
			"a1": {ID: "a1", UpdatedAt: "2024-01-01T00:00:00Z", DocJSON: []byte(`{"root":[]}`)},
		},
	}
	p, _, _ := openTestPuller(t, transport, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, p.Run(ctx))
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, transport.calledFor("a1"), 5, "singleflight still allows one fetch per sweep it actually joins")
}
