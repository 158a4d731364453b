package syncengine

import (
	"context"

	"github.com/noteweave/outlinesync/internal/kvstore"
)

// nextSectionSeq returns the next monotonic seq for (articleID, sectionID),
// starting at 1. Every section_upsert_content op enqueued for a section
// carries a strictly increasing seq so the server can discard a stale op
// that arrives after a newer one (spec.md §3's per-section monotonic
// sequence invariant).
func nextSectionSeq(ctx context.Context, store *kvstore.Store, articleID, sectionID string) (int64, error) {
	row := store.DB().QueryRowContext(ctx, `
		INSERT INTO section_seq (article_id, section_id, seq)
		VALUES (?, ?, 1)
		ON CONFLICT(article_id, section_id) DO UPDATE SET seq = seq + 1
		RETURNING seq
	`, articleID, sectionID)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// seedSectionSeq resets (article_id, section_id) to a known starting seq,
// used when materializing a conflict-copy section so its first upsert
// begins at 1 rather than inheriting an unrelated counter.
func seedSectionSeq(ctx context.Context, store *kvstore.Store, articleID, sectionID string, seq int64) error {
	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO section_seq (article_id, section_id, seq)
		VALUES (?, ?, ?)
		ON CONFLICT(article_id, section_id) DO UPDATE SET seq = excluded.seq
	`, articleID, sectionID, seq)
	return err
}
