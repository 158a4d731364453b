// Package status computes the offline-readiness coverage summary:
// how many articles have a cached doc, and how media assets are
// distributed across fetch states. It also exports the same numbers as
// OTel metrics instruments, the way the teacher's dolt storage backend
// registers counters/histograms against the global meter at init time
// (internal/storage/dolt/store.go's doltMetrics).
package status

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/noteweave/outlinesync/internal/kvstore"
)

// Summary is a point-in-time offline-readiness coverage report.
type Summary struct {
	TotalArticles   int
	ArticlesWithDoc int
	MediaOK         int
	MediaError      int
	MediaNeeded     int
	OutboxPending   int
}

// Reporter computes Summary snapshots and mirrors the latest one into
// OTel observable gauges.
type Reporter struct {
	store *kvstore.Store

	mu   sync.RWMutex
	last Summary
}

// New constructs a Reporter and registers its OTel instruments against
// the global meter provider, matching the teacher's package-init
// registration style but deferred to construction time since a
// Reporter needs a store to read from.
func New(store *kvstore.Store) (*Reporter, error) {
	r := &Reporter{store: store}
	if err := r.registerInstruments(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reporter) registerInstruments() error {
	m := otel.Meter("github.com/noteweave/outlinesync/internal/status")

	gauge := func(name, desc, unit string, read func(Summary) int64) error {
		_, err := m.Int64ObservableGauge(name,
			metric.WithDescription(desc),
			metric.WithUnit(unit),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				r.mu.RLock()
				s := r.last
				r.mu.RUnlock()
				o.Observe(read(s))
				return nil
			}),
		)
		return err
	}

	for _, g := range []struct {
		name, desc, unit string
		read             func(Summary) int64
	}{
		{"outlinesync.status.articles_total", "total known articles", "{article}", func(s Summary) int64 { return int64(s.TotalArticles) }},
		{"outlinesync.status.articles_with_doc", "articles with a cached doc", "{article}", func(s Summary) int64 { return int64(s.ArticlesWithDoc) }},
		{"outlinesync.status.media_ok", "media assets fetched successfully", "{asset}", func(s Summary) int64 { return int64(s.MediaOK) }},
		{"outlinesync.status.media_error", "media assets that failed to fetch", "{asset}", func(s Summary) int64 { return int64(s.MediaError) }},
		{"outlinesync.status.media_needed", "media assets still awaiting fetch", "{asset}", func(s Summary) int64 { return int64(s.MediaNeeded) }},
		{"outlinesync.status.outbox_pending", "outbox ops awaiting flush", "{op}", func(s Summary) int64 { return int64(s.OutboxPending) }},
	} {
		if err := gauge(g.name, g.desc, g.unit, g.read); err != nil {
			return err
		}
	}
	return nil
}

// Compute reads a fresh Summary from the store and caches it so the
// registered OTel gauges observe it on their next collection.
func (r *Reporter) Compute(ctx context.Context) (Summary, error) {
	db := r.store.DB()
	var s Summary

	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE deleted_at IS NULL`)
	if err := row.Scan(&s.TotalArticles); err != nil {
		return Summary{}, err
	}

	row = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE deleted_at IS NULL AND doc_json IS NOT NULL`)
	if err := row.Scan(&s.ArticlesWithDoc); err != nil {
		return Summary{}, err
	}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM media_assets GROUP BY status`)
	if err != nil {
		return Summary{}, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Summary{}, err
		}
		switch status {
		case "ok":
			s.MediaOK = n
		case "error":
			s.MediaError = n
		default:
			s.MediaNeeded += n
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Summary{}, err
	}
	rows.Close()

	row = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`)
	if err := row.Scan(&s.OutboxPending); err != nil {
		return Summary{}, err
	}

	r.mu.Lock()
	r.last = s
	r.mu.Unlock()
	return s, nil
}
