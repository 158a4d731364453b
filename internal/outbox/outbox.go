// Package outbox implements the durable queue of pending sync operations
// described in spec.md §4.3: per-type coalescing, bounded reads, attempt
// tracking, and an "outbox-changed" signal for the sync scheduler.
package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/types"
)

const (
	defaultReadLimit = 50
	maxReadLimit     = 500
)

// Outbox is the durable pending-op queue.
type Outbox struct {
	store   *kvstore.Store
	changed chan struct{}
}

// New constructs an Outbox backed by store.
func New(store *kvstore.Store) *Outbox {
	return &Outbox{
		store:   store,
		changed: make(chan struct{}, 1),
	}
}

// Changed signals (non-blocking, at most one signal buffered) after every
// EnqueueOp and Remove; the scheduler selects on
// this to switch between idle and fast-flush mode (spec.md §4.3).
func (o *Outbox) Changed() <-chan struct{} { return o.changed }

func (o *Outbox) signal() {
	select {
	case o.changed <- struct{}{}:
	default:
	}
}

// EnqueueOp inserts a new op, first deleting any prior op with the same
// (type, articleId, coalesceKey) when coalesceKey is non-empty — the
// invariant from spec.md §3: "at most one op per (type, articleId,
// coalesceKey)".
func (o *Outbox) EnqueueOp(ctx context.Context, opType types.OpType, articleID string, payload []byte, coalesceKey string) (string, error) {
	opID := uuid.NewString()
	now := time.Now().UnixMilli()

	err := o.store.WithTx(ctx, func(tx *sql.Tx) error {
		if coalesceKey != "" {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM outbox WHERE type = ? AND article_id = ? AND coalesce_key = ?
			`, string(opType), articleID, coalesceKey); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox (id, created_at_ms, type, article_id, payload, coalesce_key, attempts, last_error)
			VALUES (?, ?, ?, ?, ?, ?, 0, '')
		`, opID, now, string(opType), articleID, payload, nullIfEmpty(coalesceKey))
		return err
	})
	if err != nil {
		return "", err
	}
	o.signal()
	return opID, nil
}

// ReadPending returns up to limit pending ops ordered by createdAtMs
// ascending. limit is clamped to [1, maxReadLimit], defaulting to
// defaultReadLimit when 0.
func (o *Outbox) ReadPending(ctx context.Context, limit int) ([]types.OutboxOp, error) {
	switch {
	case limit <= 0:
		limit = defaultReadLimit
	case limit > maxReadLimit:
		limit = maxReadLimit
	}

	rows, err := o.store.DB().QueryContext(ctx, `
		SELECT id, created_at_ms, type, article_id, payload, coalesce_key, attempts, last_error, last_attempt_at
		FROM outbox ORDER BY created_at_ms ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ops []types.OutboxOp
	for rows.Next() {
		var (
			op            types.OutboxOp
			opType        string
			coalesceKey   sql.NullString
			lastAttemptAt sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &op.CreatedAtMs, &opType, &op.ArticleID, &op.Payload, &coalesceKey, &op.Attempts, &op.LastError, &lastAttemptAt); err != nil {
			return nil, err
		}
		op.Type = types.OpType(opType)
		if coalesceKey.Valid {
			op.CoalesceKey = coalesceKey.String
		}
		if lastAttemptAt.Valid {
			v := lastAttemptAt.Int64
			op.LastAttemptAt = &v
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// OutlineOpsForArticle returns the pending outline ops (content upserts,
// deletes, structure snapshots, doc-json saves) for one article, in
// enqueue order. Used by the sync engine's flush protocol.
func (o *Outbox) OutlineOpsForArticle(ctx context.Context, articleID string) ([]types.OutboxOp, error) {
	rows, err := o.store.DB().QueryContext(ctx, `
		SELECT id, created_at_ms, type, article_id, payload, coalesce_key, attempts, last_error, last_attempt_at
		FROM outbox WHERE article_id = ? ORDER BY created_at_ms ASC
	`, articleID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ops []types.OutboxOp
	for rows.Next() {
		var (
			op            types.OutboxOp
			opType        string
			coalesceKey   sql.NullString
			lastAttemptAt sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &op.CreatedAtMs, &opType, &op.ArticleID, &op.Payload, &coalesceKey, &op.Attempts, &op.LastError, &lastAttemptAt); err != nil {
			return nil, err
		}
		op.Type = types.OpType(opType)
		if !op.Type.IsOutline() {
			continue
		}
		if coalesceKey.Valid {
			op.CoalesceKey = coalesceKey.String
		}
		if lastAttemptAt.Valid {
			v := lastAttemptAt.Int64
			op.LastAttemptAt = &v
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// HasOutlineOps implements cache.OutlineOpsChecker: it reports whether
// any outline op is still pending for articleID.
func (o *Outbox) HasOutlineOps(ctx context.Context, articleID string) (bool, error) {
	var count int
	err := o.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbox
		WHERE article_id = ? AND type IN (?, ?, ?, ?)
	`, articleID,
		string(types.OpSectionUpsertContent), string(types.OpDeleteSections),
		string(types.OpStructureSnapshot), string(types.OpSaveDocJSON),
	).Scan(&count)
	return count > 0, err
}

// MarkError increments attempts and records lastError/lastAttemptAt for
// opID. The op remains in the outbox for a later retry.
func (o *Outbox) MarkError(ctx context.Context, opID, msg string) error {
	now := time.Now().UnixMilli()
	_, err := o.store.DB().ExecContext(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = ?, last_attempt_at = ? WHERE id = ?
	`, msg, now, opID)
	return err
}

// Remove deletes opID unconditionally.
func (o *Outbox) Remove(ctx context.Context, opID string) error {
	_, err := o.store.DB().ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, opID)
	if err != nil {
		return err
	}
	o.signal()
	return nil
}

// RemoveMatching deletes every pending op whose id is in ids, in one
// transaction; unlike Remove it does not signal Changed. Used by the
// sync engine to apply "delete wins over upsert" (spec.md §4.4) before a
// compact transmission, to clear acked ops, and to drop ops after a
// permanent failure.
func (o *Outbox) RemoveMatching(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return o.store.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM outbox WHERE id = ?`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
