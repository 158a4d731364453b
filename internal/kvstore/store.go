// Package kvstore opens and migrates the per-user embedded document
// database that backs every other component in this module: articles,
// outline sections, embeddings, media, the outbox, pending uploads, and
// the tag indices all live in the one file this package owns.
package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/noteweave/outlinesync/internal/storage"
	"github.com/noteweave/outlinesync/internal/types"
)

// openTimeout is the wall-clock budget spec.md §4.1/§5 require: opens
// that take longer than this are reported as a typed timeout rather
// than left to hang.
const openTimeout = 3 * time.Second

var userKeyDisallowed = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeUserKey normalizes a user id/username into the key used to
// derive the database file name, defaulting to "anon" per spec.md §4.1.
func SanitizeUserKey(raw string) string {
	key := userKeyDisallowed.ReplaceAllString(strings.TrimSpace(raw), "_")
	if key == "" {
		return "anon"
	}
	return key
}

// Store is one user's embedded document database handle.
type Store struct {
	db      *sql.DB
	userKey string

	mu     sync.Mutex
	closed bool
}

// Open opens (creating and migrating if necessary) the database file for
// userKey under baseDir. It fails fast with a typed *types.StoreError
// when the open does not complete within openTimeout, distinguishing a
// lock-contended "blocked" open (another process holds the file) from a
// generic timeout.
func Open(ctx context.Context, baseDir, userKey string) (*Store, error) {
	key := SanitizeUserKey(userKey)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, types.NewStoreError(types.StoreUnknown, fmt.Errorf("create base dir: %w", err))
	}
	path := filepath.Join(baseDir, key+".sqlite3")
	dsn := storage.SQLiteConnString(path, false)
	if dsn == "" {
		return nil, types.NewStoreError(types.StoreInvalidState, fmt.Errorf("empty path for user key %q", key))
	}

	openCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.NewStoreError(types.StoreNoBackend, err)
	}
	db.SetMaxOpenConns(1) // single writer, matches the single-threaded cooperative model in spec.md §5

	if err := db.PingContext(openCtx); err != nil {
		_ = db.Close()
		if openCtx.Err() != nil {
			return nil, types.NewStoreError(types.StoreTimeout, err)
		}
		return nil, types.NewStoreError(classifyDriverError(err), err)
	}

	s := &Store{db: db, userKey: key}
	if err := s.migrate(openCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// UserKey returns the sanitized user key this store was opened for.
func (s *Store) UserKey() string { return s.userKey }

// Close releases the underlying handle. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error or panic. Every cross-store invariant this
// module maintains (local-draft checks, outbox coalescing, reindexing)
// is established inside one of these transactions, per spec.md §5.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return wrapDBError("commit tx", err)
	}
	return nil
}

// DB exposes the underlying handle for packages that build their own
// queries against this store's schema (cache, outbox, indexer, ...).
func (s *Store) DB() *sql.DB { return s.db }
