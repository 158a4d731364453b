package kvstore

import (
	"context"
	"database/sql"
)

// GetMeta reads a single key from the meta table. Returns ("", false, nil)
// if the key is unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapDBErrorf(err, "get meta %s", key)
	}
	return v, true, nil
}

// SetMeta upserts a single key in the meta table. Used for the
// process-wide persisted flags spec.md §6 names without a dedicated
// object store: last-user cache, known-user list, media-prefetch
// paused, debug/profile toggles.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return wrapDBErrorf(err, "set meta %s", key)
}

// DeleteMeta removes a key from the meta table; a no-op if absent.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, key)
	return wrapDBErrorf(err, "delete meta %s", key)
}

const (
	MetaKeyLastUser             = "last_user"
	MetaKeyKnownUsers           = "known_users" // JSON array
	MetaKeyMediaPrefetchPaused  = "media_prefetch_paused"
	MetaKeyDebugLogging         = "debug_logging"
)
