// Package uploads holds binary blobs pasted into an outline section
// while offline, keyed by an opaque token generated at capture time
// (spec.md's "Pending uploads" module). A blob is purged once the
// server has actually accepted it — callers attach each token to an
// outgoing op and remove it only on a successful response, never at
// enqueue time, matching the same drain-detection shape
// internal/quicknotes uses for buffered notes.
package uploads

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/noteweave/outlinesync/internal/idgen"
	"github.com/noteweave/outlinesync/internal/kvstore"
)

// Status mirrors spec.md's pending-upload lifecycle: pending until
// the server accepts or rejects it.
type Status string

const (
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

// Upload is one buffered blob awaiting an outgoing op.
type Upload struct {
	Token        string
	ArticleID    string
	Kind         string
	Blob         []byte
	Mime         string
	FileName     string
	Status       Status
	ErrorMessage string
	CreatedAtMs  int64
	UpdatedAtMs  int64
}

// Store holds pending upload blobs in the per-user kvstore.
type Store struct {
	store *kvstore.Store
	nowMs func() int64
}

// New constructs a Store.
func New(store *kvstore.Store) *Store {
	return &Store{store: store, nowMs: func() int64 { return time.Now().UnixMilli() }}
}

// maxTokenAttempts bounds the collision-retry loop below; a collision
// on a SHA-256-derived 8-char base36 token is astronomically unlikely,
// so this only guards against a pathological test double.
const maxTokenAttempts = 5

// Put buffers one pasted-offline blob and returns its token. The token
// is content-derived (idgen.GenerateHashID, the same base36 hash-ID
// scheme the teacher uses for issue ids) so capturing the identical
// blob twice in the same millisecond still gets distinguishable tokens
// via the nonce, rather than needing a separate random-id generator.
func (s *Store) Put(ctx context.Context, articleID, kind string, blob []byte, mime, fileName string) (string, error) {
	now := s.nowMs()
	var token string
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token = idgen.GenerateHashID("up", fileName, mime, articleID, time.UnixMilli(now), 8, attempt)
		exists, err := s.tokenExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
	}

	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_uploads (token, article_id, kind, blob, mime, file_name, status, error_message, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
			token, articleID, kind, blob, mime, fileName, string(StatusPending), now, now)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("buffer upload: %w", err)
	}
	return token, nil
}

func (s *Store) tokenExists(ctx context.Context, token string) (bool, error) {
	var n int
	err := s.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_uploads WHERE token = ?`, token).Scan(&n)
	return n > 0, err
}

// Get returns one buffered upload by token.
func (s *Store) Get(ctx context.Context, token string) (Upload, bool, error) {
	var u Upload
	var status, errMsg string
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT token, article_id, kind, blob, mime, file_name, status, error_message, created_at_ms, updated_at_ms
		FROM pending_uploads WHERE token = ?`, token).
		Scan(&u.Token, &u.ArticleID, &u.Kind, &u.Blob, &u.Mime, &u.FileName, &status, &errMsg, &u.CreatedAtMs, &u.UpdatedAtMs)
	if err == sql.ErrNoRows {
		return Upload{}, false, nil
	}
	if err != nil {
		return Upload{}, false, err
	}
	u.Status, u.ErrorMessage = Status(status), errMsg
	return u, true, nil
}

// ForArticle returns every buffered upload for an article, oldest first.
func (s *Store) ForArticle(ctx context.Context, articleID string) ([]Upload, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT token, article_id, kind, blob, mime, file_name, status, error_message, created_at_ms, updated_at_ms
		FROM pending_uploads WHERE article_id = ? ORDER BY created_at_ms ASC`, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Upload
	for rows.Next() {
		var u Upload
		var status, errMsg string
		if err := rows.Scan(&u.Token, &u.ArticleID, &u.Kind, &u.Blob, &u.Mime, &u.FileName, &status, &errMsg, &u.CreatedAtMs, &u.UpdatedAtMs); err != nil {
			return nil, err
		}
		u.Status, u.ErrorMessage = Status(status), errMsg
		out = append(out, u)
	}
	return out, rows.Err()
}

// MarkError records a rejected upload's error, per spec.md's
// `pending → error` transition; the caller decides whether to retry or
// drop it via Purge.
func (s *Store) MarkError(ctx context.Context, token, message string) error {
	now := s.nowMs()
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE pending_uploads SET status = ?, error_message = ?, updated_at_ms = ?
			WHERE token = ?`, string(StatusError), message, now, token)
		return err
	})
}

// Purge removes a buffered upload once the server has accepted it
// (spec.md: "Purged on successful server acceptance").
func (s *Store) Purge(ctx context.Context, token string) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM pending_uploads WHERE token = ?`, token)
		return err
	})
}
