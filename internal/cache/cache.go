// Package cache implements the article cache: CRUD over cached articles
// and their docJson, enforcing the local-draft invariant (spec.md §4.2)
// and maintaining the derived outline-section/tag/media indices on every
// write.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"runtime"

	"github.com/noteweave/outlinesync/internal/indexer"
	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/tags"
	"github.com/noteweave/outlinesync/internal/types"
)

// indexChunkSize bounds how many index rows are upserted per transaction
// in CacheArticlesIndex, yielding between chunks so an interactive flush
// or read is never starved behind one giant batch (spec.md §4.2).
const indexChunkSize = 50

// OutlineOpsChecker reports whether the outbox still holds outline ops
// for an article. The cache depends on this through an interface rather
// than importing internal/outbox directly, matching spec.md §9's
// "injected dependencies" design note for the ambient SyncEngine state.
type OutlineOpsChecker interface {
	HasOutlineOps(ctx context.Context, articleID string) (bool, error)
}

// Cache is the article cache.
type Cache struct {
	store  *kvstore.Store
	outbox OutlineOpsChecker
}

// New constructs a Cache backed by store, consulting outbox to decide
// whether a pending local draft is still protected.
func New(store *kvstore.Store, outbox OutlineOpsChecker) *Cache {
	return &Cache{store: store, outbox: outbox}
}

// CacheArticlesIndex upserts a batch of server index rows (no docJson),
// in chunks of indexChunkSize with a yield between chunks.
func (c *Cache) CacheArticlesIndex(ctx context.Context, rows []types.IndexRow) error {
	for start := 0; start < len(rows); start += indexChunkSize {
		end := start + indexChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		if err := c.withTxUpsertIndexRows(ctx, chunk); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

func (c *Cache) withTxUpsertIndexRows(ctx context.Context, rows []types.IndexRow) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO articles (id, title, updated_at, parent_id, position, public_slug, encrypted)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				updated_at = excluded.updated_at,
				parent_id = excluded.parent_id,
				position = excluded.position,
				public_slug = excluded.public_slug,
				encrypted = excluded.encrypted
		`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, row := range rows {
			art := row.ToArticle()
			if _, err := stmt.ExecContext(ctx, art.ID, art.Title, art.UpdatedAt, art.ParentID, art.Position, art.PublicSlug, boolToInt(art.Encrypted)); err != nil {
				return err
			}
		}
		return nil
	})
}

// CacheArticle applies the local-draft invariant and writes a full
// article (including docJson), then best-effort reindexes sections,
// tags, and media refs.
func (c *Cache) CacheArticle(ctx context.Context, incoming types.Article) error {
	return c.cacheArticleUnderID(ctx, incoming, incoming.ID)
}

// CacheArticleUnderID writes incoming under a caller-supplied id, used
// for the "inbox" pseudo-article whose id is fixed regardless of what
// the incoming payload carries.
func (c *Cache) CacheArticleUnderID(ctx context.Context, incoming types.Article, id string) error {
	return c.cacheArticleUnderID(ctx, incoming, id)
}

func (c *Cache) cacheArticleUnderID(ctx context.Context, incoming types.Article, id string) error {
	var toReindex *types.Article

	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		cached, found, err := getArticleTx(ctx, tx, id)
		if err != nil {
			return err
		}

		final := incoming
		final.ID = id

		if found {
			switch {
			case cached.UpdatedAt > incoming.UpdatedAt:
				// Older server view; skip the write entirely.
				return nil
			case cached.LocalDraft && cached.UpdatedAt == incoming.UpdatedAt:
				hasOutline := false
				if c.outbox != nil {
					hasOutline, err = c.outbox.HasOutlineOps(ctx, id)
					if err != nil {
						return err
					}
				}
				if !hasOutline {
					final.LocalDraft = false
				} else if docHash(final.DocJSON) != docHash(cached.DocJSON) {
					final.DocJSON = cached.DocJSON
					final.LocalDraft = true
				}
			}
		}

		if err := putArticleTx(ctx, tx, final); err != nil {
			return err
		}
		toReindex = &final
		return nil
	})
	if err != nil {
		return err
	}
	if toReindex != nil {
		c.bestEffortReindex(ctx, *toReindex)
	}
	return nil
}

// GetCachedArticle returns the full cached article, or (nil, false) if
// absent.
func (c *Cache) GetCachedArticle(ctx context.Context, id string) (*types.Article, bool, error) {
	var art *types.Article
	var found bool
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		a, f, err := getArticleTx(ctx, tx, id)
		art, found = a, f
		return err
	})
	return art, found, err
}

// UpdateCachedDocJSON writes only docJson, marking localDraft=true when
// docJSON is non-nil. updatedAt, when nil, preserves the cached value —
// a local save must never clear updatedAt (spec.md §9 Open Question,
// resolved in DESIGN.md).
func (c *Cache) UpdateCachedDocJSON(ctx context.Context, id string, docJSON *string, updatedAt *string) error {
	var toReindex *types.Article
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		cached, found, err := getArticleTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !found {
			cached = &types.Article{ID: id}
		}
		cached.DocJSON = docJSON
		if docJSON != nil {
			cached.LocalDraft = true
		}
		if updatedAt != nil {
			cached.UpdatedAt = *updatedAt
		}
		if err := putArticleTx(ctx, tx, *cached); err != nil {
			return err
		}
		toReindex = cached
		return nil
	})
	if err != nil {
		return err
	}
	if toReindex != nil {
		c.bestEffortReindex(ctx, *toReindex)
	}
	return nil
}

// ApplyFlushResult overwrites docJson (and, when non-empty, updatedAt)
// after the sync engine has folded a server ack into the local tree.
// Unlike UpdateCachedDocJSON this never sets localDraft — the caller
// decides separately, once it knows whether any outline ops remain,
// whether to call ClearCachedArticleLocalDraft.
func (c *Cache) ApplyFlushResult(ctx context.Context, id, docJSON string, updatedAt string) error {
	var toReindex *types.Article
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		cached, found, err := getArticleTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !found {
			cached = &types.Article{ID: id}
		}
		cached.DocJSON = &docJSON
		if updatedAt != "" {
			cached.UpdatedAt = updatedAt
		}
		if err := putArticleTx(ctx, tx, *cached); err != nil {
			return err
		}
		toReindex = cached
		return nil
	})
	if err != nil {
		return err
	}
	if toReindex != nil {
		c.bestEffortReindex(ctx, *toReindex)
	}
	return nil
}

// MarkCachedArticleDeleted sets deletedAt without otherwise disturbing
// cached state.
func (c *Cache) MarkCachedArticleDeleted(ctx context.Context, id, deletedAt string) error {
	_, err := c.store.DB().ExecContext(ctx, `UPDATE articles SET deleted_at = ? WHERE id = ?`, deletedAt, id)
	return err
}

// ClearCachedArticleLocalDraft clears localDraft once all outline ops
// for the article have been acknowledged.
func (c *Cache) ClearCachedArticleLocalDraft(ctx context.Context, id string) error {
	_, err := c.store.DB().ExecContext(ctx, `UPDATE articles SET local_draft = 0 WHERE id = ?`, id)
	return err
}

// TouchCachedArticleUpdatedAt advances the cached updatedAt; callers are
// responsible for never passing a value that would regress it.
func (c *Cache) TouchCachedArticleUpdatedAt(ctx context.Context, id, updatedAt string) error {
	_, err := c.store.DB().ExecContext(ctx, `UPDATE articles SET updated_at = ? WHERE id = ?`, updatedAt, id)
	return err
}

// TouchCachedArticleOutlineStructureRev advances outlineStructureRev; it
// never decreases, matching the monotonic invariant in spec.md §3.
func (c *Cache) TouchCachedArticleOutlineStructureRev(ctx context.Context, id string, rev int64) error {
	_, err := c.store.DB().ExecContext(ctx, `
		UPDATE articles SET outline_structure_rev = ?
		WHERE id = ? AND outline_structure_rev < ?
	`, rev, id, rev)
	return err
}

// TreePositionUpdate is one article's new (parentId, position) pair,
// applied by move/indent/outdent/move-tree structural ops.
type TreePositionUpdate struct {
	ID       string
	ParentID *string
	Position int
}

// UpdateCachedArticleTreePositions applies a batch of tree-position
// updates in one transaction.
func (c *Cache) UpdateCachedArticleTreePositions(ctx context.Context, updates []TreePositionUpdate) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE articles SET parent_id = ?, position = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.ParentID, u.Position, u.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// bestEffortReindex re-derives outline sections, tags, and media refs
// for an accepted write. Failures are swallowed per spec.md §7's
// propagation policy for best-effort tasks.
func (c *Cache) bestEffortReindex(ctx context.Context, art types.Article) {
	doc, ok := parseDocJSON(art.DocJSON)
	if !ok {
		return
	}
	_ = c.reindexOutlineSections(ctx, art.ID, doc, art.UpdatedAt)
	_ = c.reindexMediaRefs(ctx, art.ID, doc)
	_ = tags.MarkArticleTagsStale(ctx, c.store, art.ID, indexer.ExtractTags(doc))
}

func (c *Cache) reindexOutlineSections(ctx context.Context, articleID string, doc *types.Doc, updatedAt string) error {
	sections := indexer.ExtractOutlineSections(articleID, doc, updatedAt)
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM outline_sections WHERE article_id = ?`, articleID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO outline_sections (section_id, article_id, title, text, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, s := range sections {
			if _, err := stmt.ExecContext(ctx, s.SectionID, s.ArticleID, s.Title, s.Text, s.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReindexMediaOnly re-derives media refs for an article whose docJson
// hasn't changed since last cached (spec.md §4.6: when a full-pull sees
// a server index row whose updatedAt matches the cache, it skips the
// fetch entirely but still best-effort reindexes media refs).
func (c *Cache) ReindexMediaOnly(ctx context.Context, id string) error {
	art, found, err := c.GetCachedArticle(ctx, id)
	if err != nil || !found {
		return err
	}
	doc, ok := parseDocJSON(art.DocJSON)
	if !ok {
		return nil
	}
	return c.reindexMediaRefs(ctx, id, doc)
}

func (c *Cache) reindexMediaRefs(ctx context.Context, articleID string, doc *types.Doc) error {
	refs := indexer.ExtractMediaRefs(articleID, doc)
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM media_refs WHERE article_id = ?`, articleID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO media_refs (key, article_id, url) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, r := range refs {
			if _, err := stmt.ExecContext(ctx, r.Key(), r.ArticleID, r.URL); err != nil {
				return err
			}
		}
		for _, r := range refs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO media_assets (url, status) VALUES (?, 'needed')
				ON CONFLICT(url) DO NOTHING
			`, r.URL); err != nil {
				return err
			}
		}
		return nil
	})
}

func getArticleTx(ctx context.Context, tx *sql.Tx, id string) (*types.Article, bool, error) {
	var (
		a          types.Article
		parentID   sql.NullString
		publicSlug sql.NullString
		deletedAt  sql.NullString
		docJSON    sql.NullString
		encrypted  int
		localDraft int
	)
	row := tx.QueryRowContext(ctx, `
		SELECT id, title, updated_at, parent_id, position, public_slug, encrypted,
		       deleted_at, outline_structure_rev, doc_json, local_draft
		FROM articles WHERE id = ?
	`, id)
	err := row.Scan(&a.ID, &a.Title, &a.UpdatedAt, &parentID, &a.Position, &publicSlug, &encrypted,
		&deletedAt, &a.OutlineStructureRev, &docJSON, &localDraft)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if parentID.Valid {
		a.ParentID = &parentID.String
	}
	if publicSlug.Valid {
		a.PublicSlug = &publicSlug.String
	}
	if deletedAt.Valid {
		a.DeletedAt = &deletedAt.String
	}
	if docJSON.Valid {
		a.DocJSON = &docJSON.String
	}
	a.Encrypted = encrypted != 0
	a.LocalDraft = localDraft != 0
	return &a, true, nil
}

func putArticleTx(ctx context.Context, tx *sql.Tx, a types.Article) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO articles (id, title, updated_at, parent_id, position, public_slug, encrypted,
		                       deleted_at, outline_structure_rev, doc_json, local_draft)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at,
			parent_id = excluded.parent_id,
			position = excluded.position,
			public_slug = excluded.public_slug,
			encrypted = excluded.encrypted,
			deleted_at = excluded.deleted_at,
			outline_structure_rev = excluded.outline_structure_rev,
			doc_json = excluded.doc_json,
			local_draft = excluded.local_draft
	`, a.ID, a.Title, a.UpdatedAt, a.ParentID, a.Position, a.PublicSlug, boolToInt(a.Encrypted),
		a.DeletedAt, a.OutlineStructureRev, a.DocJSON, boolToInt(a.LocalDraft))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func docHash(s *string) [32]byte {
	if s == nil {
		return sha256.Sum256(nil)
	}
	return sha256.Sum256([]byte(*s))
}

// parseDocJSON reconstructs a *types.Doc from an article's stored
// docJson blob. If the stored payload is corrupt, it reports ok=false
// rather than panicking — the same "fall back gracefully" stance
// spec.md §4.2 calls for on GetCachedArticle.
func parseDocJSON(docJSON *string) (*types.Doc, bool) {
	if docJSON == nil || *docJSON == "" {
		return nil, false
	}
	var doc types.Doc
	if err := json.Unmarshal([]byte(*docJSON), &doc); err != nil {
		return nil, false
	}
	return &doc, true
}
