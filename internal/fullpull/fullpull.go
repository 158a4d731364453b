// Package fullpull implements the background reconciliation sweep from
// spec.md §4.6: walk the server's article index, refresh whichever
// cached articles have actually changed, and prune media assets nothing
// references any more. It is the engine that keeps the offline cache
// honest when local sync alone (internal/syncengine) would otherwise
// only ever push, never re-pull.
package fullpull

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/noteweave/outlinesync/internal/cache"
	"github.com/noteweave/outlinesync/internal/httpapi"
	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/types"
)

// articleYield is how long the sweep waits before dispatching the next
// article's fetch, so a large library doesn't hammer the server with a
// burst of concurrent requests (spec.md §4.6: "yield ~120ms to avoid
// server hammering").
const articleYield = 120 * time.Millisecond

// maxPrunePerSweep bounds how many orphaned media assets one sweep
// deletes, so a library-wide cleanup never turns into a single giant
// transaction (spec.md §4.6: "bounded 500 per sweep").
const maxPrunePerSweep = 500

// defaultConcurrency bounds how many articles are fetched at once.
const defaultConcurrency = 4

// Transport is the subset of httpapi.Client the sweep needs.
type Transport interface {
	ListArticles(ctx context.Context) ([]types.IndexRow, error)
	GetArticle(ctx context.Context, id string) (*httpapi.ArticleResponse, error)
	GetEmbeddings(ctx context.Context, articleID string, ids []string) (*httpapi.EmbeddingsResponse, error)
}

// EmbeddingsUpserter is the write side of internal/embedstore, kept as
// its own small interface so fullpull never imports embedstore directly
// (the same dependency-injection shape as syncengine.Transport).
type EmbeddingsUpserter interface {
	UpsertArticleEmbeddings(ctx context.Context, articleID string, embeddings []types.Embedding) error
}

// Sleeper lets tests skip the real inter-article yield.
type Sleeper interface {
	Sleep(d time.Duration)
}

// RealSleeper sleeps for real.
type RealSleeper struct{}

func (RealSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Puller runs reconciliation sweeps against one user's cache.
type Puller struct {
	store       *kvstore.Store
	cache       *cache.Cache
	transport   Transport
	embeddings  EmbeddingsUpserter
	events      ProgressSink
	sleeper     Sleeper
	concurrency int
	log         *slog.Logger

	group singleflight.Group
}

// Option configures a Puller at construction time.
type Option func(*Puller)

// WithConcurrency overrides the default bounded per-article fetch
// concurrency.
func WithConcurrency(n int) Option {
	return func(p *Puller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithSleeper overrides the real inter-article yield, for tests.
func WithSleeper(s Sleeper) Option {
	return func(p *Puller) { p.sleeper = s }
}

// New constructs a Puller. events and embeddings may be nil — a nil
// embeddings upserter just means embeddings are never written (useful
// until internal/embedstore is wired in by the caller).
func New(store *kvstore.Store, c *cache.Cache, transport Transport, embeddings EmbeddingsUpserter, events ProgressSink, opts ...Option) *Puller {
	if events == nil {
		events = NoopProgressSink{}
	}
	p := &Puller{
		store:       store,
		cache:       c,
		transport:   transport,
		embeddings:  embeddings,
		events:      events,
		sleeper:     RealSleeper{},
		concurrency: defaultConcurrency,
		log:         slog.Default().With("component", "fullpull"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs one reconciliation sweep. Concurrent callers share a
// single in-flight sweep (spec.md §4.6: "Runs at most one reconciliation
// sweep at a time") — every caller blocks until that one sweep finishes
// and all observe its result.
func (p *Puller) Run(ctx context.Context) error {
	_, err, _ := p.group.Do("sweep", func() (interface{}, error) {
		return nil, p.runSweep(ctx)
	})
	return err
}

func (p *Puller) runSweep(ctx context.Context) error {
	p.events.Emit(Progress{Phase: PhaseIndex})
	rows, err := p.transport.ListArticles(ctx)
	if err != nil {
		p.events.Emit(Progress{Phase: PhaseError, Err: err})
		return err
	}

	p.events.Emit(Progress{Phase: PhaseArticles})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, row := range rows {
		row := row
		if i > 0 {
			p.sleeper.Sleep(articleYield)
		}
		g.Go(func() error {
			p.reconcileArticle(gctx, row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.events.Emit(Progress{Phase: PhaseError, Err: err})
		return err
	}
	if err := p.cache.CacheArticlesIndex(ctx, rows); err != nil {
		p.events.Emit(Progress{Phase: PhaseError, Err: err})
		return err
	}

	if err := p.pruneOrphanMediaAssets(ctx); err != nil {
		// Pruning is best-effort cleanup, not correctness-critical; a
		// failure here shouldn't make the whole sweep look failed.
		p.log.Warn("media asset pruning failed", "err", err)
	}

	p.events.Emit(Progress{Phase: PhaseDone})
	return nil
}

// reconcileArticle fetches one article if the server's view has moved
// since it was last cached, or just re-derives media refs if not. A
// single article's failure is logged and swallowed — it must never
// abort the rest of the sweep (spec.md §4.6 describes a per-article
// loop, not an all-or-nothing transaction).
func (p *Puller) reconcileArticle(ctx context.Context, row types.IndexRow) {
	cached, found, err := p.cache.GetCachedArticle(ctx, row.ID)
	if err != nil {
		p.log.Warn("full-pull: reading cached article failed", "articleId", row.ID, "err", err)
		return
	}
	if found && cached.UpdatedAt == row.UpdatedAt && cached.DocJSON != nil {
		if err := p.cache.ReindexMediaOnly(ctx, row.ID); err != nil {
			p.log.Warn("full-pull: media-only reindex failed", "articleId", row.ID, "err", err)
		}
		return
	}

	full, err := p.transport.GetArticle(ctx, row.ID)
	if err != nil {
		p.log.Warn("full-pull: fetching article failed", "articleId", row.ID, "err", err)
		return
	}
	art := articleFromResponse(full)
	if err := p.cache.CacheArticle(ctx, *art); err != nil {
		p.log.Warn("full-pull: caching article failed", "articleId", row.ID, "err", err)
		return
	}

	if p.embeddings == nil {
		return
	}
	embResp, err := p.transport.GetEmbeddings(ctx, row.ID, nil)
	if err != nil {
		p.log.Warn("full-pull: fetching embeddings failed", "articleId", row.ID, "err", err)
		return
	}
	embeddings := make([]types.Embedding, 0, len(embResp.Embeddings))
	for _, item := range embResp.Embeddings {
		updatedAt := full.UpdatedAt
		if item.UpdatedAt != nil {
			updatedAt = *item.UpdatedAt
		}
		embeddings = append(embeddings, types.Embedding{
			SectionID: item.SectionID,
			ArticleID: row.ID,
			UpdatedAt: updatedAt,
			Vec:       item.Embedding,
		})
	}
	if len(embeddings) == 0 {
		return
	}
	if err := p.embeddings.UpsertArticleEmbeddings(ctx, row.ID, embeddings); err != nil {
		p.log.Warn("full-pull: upserting embeddings failed", "articleId", row.ID, "err", err)
	}
}

func articleFromResponse(r *httpapi.ArticleResponse) *types.Article {
	var docJSON *string
	if len(r.DocJSON) > 0 && string(r.DocJSON) != "null" {
		s := string(r.DocJSON)
		docJSON = &s
	}
	return &types.Article{
		ID:                  r.ID,
		Title:               r.Title,
		UpdatedAt:           r.UpdatedAt,
		ParentID:            r.ParentID,
		Position:            r.Position,
		PublicSlug:          r.PublicSlug,
		Encrypted:           r.Encrypted,
		OutlineStructureRev: r.OutlineStructureRev,
		DocJSON:             docJSON,
	}
}
