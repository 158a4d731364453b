// Package quicknotes implements the offline quick-capture inbox bridge
// from spec.md §4.9: notes captured before the inbox article is known
// (or while offline) are buffered locally, overlaid onto the cached
// inbox docJson on read, and handed off to internal/syncengine once
// connectivity lets them actually sync.
package quicknotes

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/noteweave/outlinesync/internal/cache"
	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/outbox"
	"github.com/noteweave/outlinesync/internal/types"
)

// PendingNote is one captured-offline note awaiting sync.
type PendingNote struct {
	SectionID   string
	HeadingJSON json.RawMessage
	BodyJSON    json.RawMessage
	CreatedAtMs int64
}

// Enqueuer is the subset of syncengine.SyncEngine quicknotes needs —
// kept as its own interface so this package never imports syncengine
// (the same dependency-injection shape syncengine itself uses for
// Transport and Clock).
type Enqueuer interface {
	EnqueueSectionUpsert(ctx context.Context, articleID, sectionID string, headingJSON, bodyJSON json.RawMessage) (string, error)
}

// Bridge buffers quick notes and bridges them into the outbox.
type Bridge struct {
	store *kvstore.Store
	cache *cache.Cache
	nowMs func() int64
}

// New constructs a Bridge.
func New(store *kvstore.Store, c *cache.Cache) *Bridge {
	return &Bridge{store: store, cache: c, nowMs: defaultNowMs}
}

// Capture buffers one note offline, generating its sectionId, and
// returns that id so the caller (e.g. a UI) can reference it before any
// sync has happened.
func (b *Bridge) Capture(ctx context.Context, headingJSON, bodyJSON json.RawMessage) (string, error) {
	sectionID := uuid.NewString()
	err := b.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quick_notes_pending (section_id, heading_json, body_json, created_at_ms)
			VALUES (?, ?, ?, ?)`, sectionID, []byte(headingJSON), []byte(bodyJSON), b.nowMs())
		return err
	})
	if err != nil {
		return "", err
	}
	return sectionID, nil
}

// Pending returns every buffered note, oldest first.
func (b *Bridge) Pending(ctx context.Context) ([]PendingNote, error) {
	rows, err := b.store.DB().QueryContext(ctx, `
		SELECT section_id, heading_json, body_json, created_at_ms
		FROM quick_notes_pending ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingNote
	for rows.Next() {
		var n PendingNote
		var heading, body []byte
		if err := rows.Scan(&n.SectionID, &heading, &body, &n.CreatedAtMs); err != nil {
			return nil, err
		}
		n.HeadingJSON, n.BodyJSON = heading, body
		out = append(out, n)
	}
	return out, rows.Err()
}

// OverlayInboxDoc returns the cached inbox docJson with every pending
// note appended as a top-level section, oldest first, so a reader sees
// captured-but-not-yet-synced notes alongside whatever the server
// already has (spec.md §4.9: "Reads of the inbox overlay these pending
// notes on top of the cached docJson").
func (b *Bridge) OverlayInboxDoc(ctx context.Context) (*types.Doc, error) {
	doc := &types.Doc{}
	art, found, err := b.cache.GetCachedArticle(ctx, types.InboxArticleID)
	if err != nil {
		return nil, err
	}
	if found && art.DocJSON != nil {
		if err := json.Unmarshal([]byte(*art.DocJSON), doc); err != nil {
			doc = &types.Doc{}
		}
	}

	pending, err := b.Pending(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range pending {
		doc.Root = append(doc.Root, &types.OutlineNode{
			Type:      "outlineSection",
			SectionID: n.SectionID,
			Heading:   n.HeadingJSON,
			Body:      n.BodyJSON,
		})
	}
	return doc, nil
}

// EnqueuePendingForSync hands every buffered note to enq, oldest first,
// as a section_upsert_content op against the inbox article (spec.md
// §4.9). Each note's own per-section sequence counter is stamped by
// enq itself (syncengine.SyncEngine.EnqueueSectionUpsert already does
// this for every edit, quick notes included), "so the server
// deterministically orders concurrent note captures from multiple
// devices". It does not remove the buffered record — that happens once
// ReconcileDrained observes the corresponding outbox op has actually
// flushed.
func (b *Bridge) EnqueuePendingForSync(ctx context.Context, enq Enqueuer) error {
	pending, err := b.Pending(ctx)
	if err != nil {
		return err
	}
	for _, n := range pending {
		if _, err := enq.EnqueueSectionUpsert(ctx, types.InboxArticleID, n.SectionID, n.HeadingJSON, n.BodyJSON); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileDrained removes a buffered note's pending record once the
// outbox no longer holds any op for its section — i.e. it flushed
// successfully (spec.md §4.9: "detected by the outbox drain, which
// removes the pending record by sectionId").
func (b *Bridge) ReconcileDrained(ctx context.Context, ob *outbox.Outbox) error {
	pending, err := b.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	stillQueued, err := queuedSectionIDs(ctx, ob)
	if err != nil {
		return err
	}

	return b.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, n := range pending {
			if stillQueued[n.SectionID] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM quick_notes_pending WHERE section_id = ?`, n.SectionID); err != nil {
				return err
			}
		}
		return nil
	})
}

func queuedSectionIDs(ctx context.Context, ob *outbox.Outbox) (map[string]bool, error) {
	ops, err := ob.OutlineOpsForArticle(ctx, types.InboxArticleID)
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, op := range ops {
		if op.Type != types.OpSectionUpsertContent {
			continue
		}
		var p types.SectionUpsertContentPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			continue
		}
		out[p.SectionID] = true
	}
	return out, nil
}

func defaultNowMs() int64 {
	return nowMillisReal()
}
