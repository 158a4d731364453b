// Package tags maintains the per-article tag cache and the global tag
// index derived from it (spec.md §3 tags_by_article / tags_global,
// component budget "Tags global index").
package tags

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/types"
)

const metaKeyGlobalStale = "tags_global_stale"

// MarkArticleTagsStale replaces the cached tag set for one article and
// flags the global index for recomputation on next read. Called as a
// best-effort reindex task from the article cache; errors here are
// swallowed by the caller per spec.md §7.
func MarkArticleTagsStale(ctx context.Context, store *kvstore.Store, articleID string, tagList []string) error {
	if tagList == nil {
		tagList = []string{}
	}
	encoded, err := json.Marshal(tagList)
	if err != nil {
		return err
	}
	now := nowMs()
	return store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags_by_article (article_id, tags, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(article_id) DO UPDATE SET tags = excluded.tags, updated_at = excluded.updated_at
		`, articleID, string(encoded), now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, '1')
			ON CONFLICT(key) DO UPDATE SET value = '1'
		`, metaKeyGlobalStale)
		return err
	})
}

// RefreshGlobalIndex recomputes tags_global from every tags_by_article
// row, in one transaction, and clears the stale flag.
func RefreshGlobalIndex(ctx context.Context, store *kvstore.Store) error {
	return store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT tags FROM tags_by_article`)
		if err != nil {
			return err
		}
		counts := map[string]int{}
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				_ = rows.Close()
				return err
			}
			var articleTags []string
			if err := json.Unmarshal([]byte(raw), &articleTags); err != nil {
				continue
			}
			for _, t := range articleTags {
				counts[t]++
			}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		if _, err := tx.ExecContext(ctx, `DELETE FROM tags_global`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tags_global (key, label, count, last_seen_at_ms) VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		now := nowMs()
		for tag, count := range counts {
			if _, err := stmt.ExecContext(ctx, tag, tag, count, now); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, '0')
			ON CONFLICT(key) DO UPDATE SET value = '0'
		`, metaKeyGlobalStale)
		return err
	})
}

// IsGlobalIndexStale reports whether RefreshGlobalIndex needs to run
// before the cached tags_global rows can be trusted.
func IsGlobalIndexStale(ctx context.Context, store *kvstore.Store) (bool, error) {
	v, ok, err := store.GetMeta(ctx, metaKeyGlobalStale)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return v == "1", nil
}

// ListGlobalTags returns the cached global tag index, refreshing it
// first if marked stale.
func ListGlobalTags(ctx context.Context, store *kvstore.Store) ([]types.TagCount, error) {
	stale, err := IsGlobalIndexStale(ctx, store)
	if err != nil {
		return nil, err
	}
	if stale {
		if err := RefreshGlobalIndex(ctx, store); err != nil {
			return nil, err
		}
	}

	rows, err := store.DB().QueryContext(ctx, `
		SELECT key, label, count, last_seen_at_ms FROM tags_global ORDER BY count DESC, key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.TagCount
	for rows.Next() {
		var tc types.TagCount
		if err := rows.Scan(&tc.Key, &tc.Label, &tc.Count, &tc.LastSeenAtMs); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
