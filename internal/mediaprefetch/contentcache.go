package mediaprefetch

import (
	"context"
	"database/sql"
	"time"

	"github.com/noteweave/outlinesync/internal/kvstore"
)

// SQLiteContentCache is the production ContentCache: fetched media
// bytes land in the same embedded database as everything else, keyed
// by url.
type SQLiteContentCache struct {
	store *kvstore.Store
}

// NewSQLiteContentCache wraps store.
func NewSQLiteContentCache(store *kvstore.Store) *SQLiteContentCache {
	return &SQLiteContentCache{store: store}
}

func (c *SQLiteContentCache) Has(ctx context.Context, url string) (bool, error) {
	var n int
	err := c.store.DB().QueryRowContext(ctx, `SELECT 1 FROM media_blobs WHERE url = ?`, url).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *SQLiteContentCache) Put(ctx context.Context, url string, data []byte) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO media_blobs (url, blob, fetched_at) VALUES (?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET blob = excluded.blob, fetched_at = excluded.fetched_at`,
			url, data, time.Now().UnixMilli())
		return err
	})
}

// Get returns the cached bytes for url, or (nil, false) if absent. Not
// part of the ContentCache interface the prefetch loop needs, but
// useful for callers serving previously fetched media back out.
func (c *SQLiteContentCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	var data []byte
	err := c.store.DB().QueryRowContext(ctx, `SELECT blob FROM media_blobs WHERE url = ?`, url).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
