// Package mediaprefetch implements the background media download loop
// from spec.md §4.7: pull referenced uploads into a content cache ahead
// of when they're needed, throttled by network conditions and a
// per-asset fail-count cap. Like internal/syncengine's FlushOutboxOnce,
// one Tick is the whole unit of work — the scheduler that calls it on
// an interval and on `online` lives elsewhere.
package mediaprefetch

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/types"
)

// NetworkHint is the subset of the browser Network Information API spec
// borrows its vocabulary from (spec.md §4.7): an effective connection
// type plus the user's save-data preference.
type NetworkHint struct {
	EffectiveType string // "2g", "3g", "4g", "" (unknown/wifi-class)
	SaveData      bool
}

// concurrencyFor maps a network hint to the number of concurrent
// fetches spec.md §4.7 allows: "1 for 2g or save-data, 2 for 3g, else 3".
func concurrencyFor(hint NetworkHint) int {
	switch {
	case hint.SaveData || hint.EffectiveType == "2g":
		return 1
	case hint.EffectiveType == "3g":
		return 2
	default:
		return 3
	}
}

// Transport fetches one media asset's bytes over the network.
type Transport interface {
	FetchMedia(ctx context.Context, url string) ([]byte, error)
}

// ContentCache is where fetched media bytes land, checked before any
// network fetch is attempted (spec.md §4.7 step 3).
type ContentCache interface {
	Has(ctx context.Context, url string) (bool, error)
	Put(ctx context.Context, url string, data []byte) error
}

// Prefetcher runs one tick of the media prefetch loop at a time.
type Prefetcher struct {
	store     *kvstore.Store
	transport Transport
	content   ContentCache
	log       *slog.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
}

// New constructs a Prefetcher. content may be nil, in which case a
// media_blobs-table-backed ContentCache is used.
func New(store *kvstore.Store, transport Transport, content ContentCache) *Prefetcher {
	if content == nil {
		content = NewSQLiteContentCache(store)
	}
	return &Prefetcher{
		store:     store,
		transport: transport,
		content:   content,
		log:       slog.Default().With("component", "mediaprefetch"),
		limiter:   rate.NewLimiter(rate.Limit(3), 3),
	}
}

// IsPaused reports whether the persisted pause flag is set (spec.md
// §4.7 step 1: "paused (persisted flag)").
func (p *Prefetcher) IsPaused(ctx context.Context) (bool, error) {
	v, found, err := p.store.GetMeta(ctx, "media_prefetch_paused")
	if err != nil {
		return false, err
	}
	return found && v == "true", nil
}

// SetPaused persists the pause flag.
func (p *Prefetcher) SetPaused(ctx context.Context, paused bool) error {
	if !paused {
		return p.store.DeleteMeta(ctx, "media_prefetch_paused")
	}
	return p.store.SetMeta(ctx, "media_prefetch_paused", "true")
}

// Tick runs one pass of the loop: if offline or paused, it does
// nothing; otherwise it reads a bounded batch of assets still needing a
// fetch and brings each one up to date, bounded by hint-driven
// concurrency (spec.md §4.7).
func (p *Prefetcher) Tick(ctx context.Context, online bool, hint NetworkHint) error {
	if !online {
		return nil
	}
	paused, err := p.IsPaused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return nil
	}

	concurrency := concurrencyFor(hint)
	p.mu.Lock()
	p.limiter.SetLimit(rate.Limit(concurrency))
	p.limiter.SetBurst(concurrency)
	p.mu.Unlock()

	assets, err := p.listRetryable(ctx, 3*concurrency)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, asset := range assets {
		asset := asset
		if err := p.limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			p.fetchOne(gctx, asset)
			return nil
		})
	}
	return g.Wait()
}

// listRetryable reads up to limit assets still eligible for a fetch
// attempt, ordered by fetchedAt with nulls (never-fetched assets)
// first (spec.md §4.7 step 2).
func (p *Prefetcher) listRetryable(ctx context.Context, limit int) ([]types.MediaAsset, error) {
	rows, err := p.store.DB().QueryContext(ctx, `
		SELECT url, status, fetched_at, fail_count, last_error FROM media_assets
		WHERE status != 'ok' AND fail_count < ?
		ORDER BY fetched_at IS NOT NULL, fetched_at ASC
		LIMIT ?`, types.MaxMediaFailCount, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.MediaAsset
	for rows.Next() {
		var a types.MediaAsset
		var fetchedAt sql.NullInt64
		if err := rows.Scan(&a.URL, &a.Status, &fetchedAt, &a.FailCount, &a.LastError); err != nil {
			return nil, err
		}
		if fetchedAt.Valid {
			v := fetchedAt.Int64
			a.FetchedAt = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// fetchOne checks the content cache first, falling back to a network
// fetch, and records the outcome either way (spec.md §4.7 step 3). A
// single asset's failure never aborts the tick — it's recorded on the
// row and picked up again (if still retryable) on the next tick.
func (p *Prefetcher) fetchOne(ctx context.Context, asset types.MediaAsset) {
	cached, err := p.content.Has(ctx, asset.URL)
	if err != nil {
		p.log.Warn("media prefetch: content cache check failed", "url", asset.URL, "err", err)
	}
	if cached {
		if err := p.markOK(ctx, asset.URL); err != nil {
			p.log.Warn("media prefetch: marking cached asset ok failed", "url", asset.URL, "err", err)
		}
		return
	}

	data, err := p.transport.FetchMedia(ctx, asset.URL)
	if err != nil {
		if markErr := p.markError(ctx, asset.URL, err.Error()); markErr != nil {
			p.log.Warn("media prefetch: recording fetch failure failed", "url", asset.URL, "err", markErr)
		}
		return
	}
	if err := p.content.Put(ctx, asset.URL, data); err != nil {
		p.log.Warn("media prefetch: writing to content cache failed", "url", asset.URL, "err", err)
		_ = p.markError(ctx, asset.URL, err.Error())
		return
	}
	if err := p.markOK(ctx, asset.URL); err != nil {
		p.log.Warn("media prefetch: marking fetched asset ok failed", "url", asset.URL, "err", err)
	}
}

func (p *Prefetcher) markOK(ctx context.Context, url string) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE media_assets SET status = 'ok', fetched_at = ?, last_error = ''
			WHERE url = ?`, nowMillis(), url)
		return err
	})
}

func (p *Prefetcher) markError(ctx context.Context, url, errMsg string) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE media_assets
			SET status = 'error', fetched_at = ?, fail_count = fail_count + 1, last_error = ?
			WHERE url = ?`, nowMillis(), errMsg, url)
		return err
	})
}

func nowMillis() int64 { return time.Now().UnixMilli() }
