// Package syncengine implements the outline sync protocol from spec.md
// §4.4-§4.5: flushing the outbox to the server in content-before-structure
// order, throttling per-article flush and structure-snapshot attempts,
// materializing conflict-copy sections when a content upsert loses a
// race, and draining structural article ops one at a time once every
// article's outline ops have drained.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/noteweave/outlinesync/internal/cache"
	"github.com/noteweave/outlinesync/internal/httpapi"
	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/outbox"
	"github.com/noteweave/outlinesync/internal/types"
)

// maxFlushBatch bounds how many outbox rows one flush pass reads; a
// durable outbox growing past this just means more flush rounds.
const maxFlushBatch = 500

// Transport is the subset of httpapi.Client the engine needs. Tests
// substitute a fake implementation instead of spinning up an httptest
// server for every flush-ordering scenario.
type Transport interface {
	Compact(ctx context.Context, articleID string, req httpapi.CompactRequest) (*httpapi.CompactResponse, error)
	StructureSnapshot(ctx context.Context, articleID string, req httpapi.StructureSnapshotRequest) (*httpapi.StructureSnapshotResponse, error)
	SaveDocJSON(ctx context.Context, articleID string, docJSON json.RawMessage) (*httpapi.SaveDocJSONResponse, error)
	TreeOp(ctx context.Context, articleID string, kind httpapi.TreeOpKind, payload json.RawMessage) error
	CreateArticle(ctx context.Context, payload json.RawMessage) (*httpapi.ArticleResponse, error)
}

// Clock is injected so flush-throttle tests don't depend on wall time
// (spec.md §9's "model as a single long-lived value with injected
// dependencies" design note).
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Options tunes the engine's throttles and safety nets.
type Options struct {
	// FlushThrottle is the minimum gap between two flush attempts for the
	// same article (spec.md §4.4: 2s).
	FlushThrottle time.Duration
	// StructureThrottle is the minimum gap between two structure_snapshot
	// transmissions for the same article (spec.md §4.4: 3s).
	StructureThrottle time.Duration
	// StrictStructureAck turns the "unmentioned sections append to root"
	// safety net into a hard error instead, for callers that would rather
	// surface a bug than silently reshape the tree.
	StrictStructureAck bool
}

// DefaultOptions returns the throttles spec.md §4.4 specifies.
func DefaultOptions() Options {
	return Options{
		FlushThrottle:     2 * time.Second,
		StructureThrottle: 3 * time.Second,
	}
}

// SyncEngine flushes one user's outbox against the server.
type SyncEngine struct {
	store     *kvstore.Store
	cache     *cache.Cache
	outbox    *outbox.Outbox
	transport Transport
	events    EventSink
	clock     Clock
	opts      Options
	log       *slog.Logger

	mu              sync.Mutex
	flushing        bool
	lastFlushAt     map[string]time.Time
	lastStructureAt map[string]time.Time
}

// New constructs a SyncEngine. events and clock may be nil, in which case
// NoopEventSink and RealClock are used.
func New(store *kvstore.Store, c *cache.Cache, ob *outbox.Outbox, transport Transport, events EventSink, clock Clock, opts Options) *SyncEngine {
	if events == nil {
		events = NoopEventSink{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &SyncEngine{
		store:           store,
		cache:           c,
		outbox:          ob,
		transport:       transport,
		events:          events,
		clock:           clock,
		opts:            opts,
		log:             slog.Default().With("component", "syncengine"),
		lastFlushAt:     map[string]time.Time{},
		lastStructureAt: map[string]time.Time{},
	}
}

// FlushOutboxOnce runs one flush pass: every article with pending outline
// ops that is due for a flush attempt, then every pending structural op
// in FIFO order. It is safe to call concurrently — a call that lands
// while another is already in flight returns immediately without doing
// anything (the isFlushing latch spec.md §4.4 calls for).
func (e *SyncEngine) FlushOutboxOnce(ctx context.Context) error {
	e.mu.Lock()
	if e.flushing {
		e.mu.Unlock()
		return nil
	}
	e.flushing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.flushing = false
		e.mu.Unlock()
	}()

	e.events.Emit(Event{Kind: EventFlushStarted})
	err := e.flushLocked(ctx)
	e.events.Emit(Event{Kind: EventFlushFinished, Err: err})
	return err
}

func (e *SyncEngine) flushLocked(ctx context.Context) error {
	ops, err := e.outbox.ReadPending(ctx, maxFlushBatch)
	if err != nil {
		return err
	}

	var articleIDs []string
	seen := map[string]bool{}
	for _, op := range ops {
		if !op.Type.IsOutline() || seen[op.ArticleID] {
			continue
		}
		seen[op.ArticleID] = true
		articleIDs = append(articleIDs, op.ArticleID)
	}

	for _, articleID := range articleIDs {
		if !e.dueForFlush(articleID) {
			continue
		}
		e.markFlushAttempt(articleID)
		if err := e.flushArticleOutline(ctx, articleID); err != nil {
			if isAuthError(err) {
				return err
			}
			e.log.Warn("outline flush failed", "articleId", articleID, "err", err)
		}
	}

	return e.drainStructuralOps(ctx)
}

func (e *SyncEngine) dueForFlush(articleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFlushAt[articleID]
	return !ok || e.clock.Now().Sub(last) >= e.opts.FlushThrottle
}

func (e *SyncEngine) markFlushAttempt(articleID string) {
	e.mu.Lock()
	e.lastFlushAt[articleID] = e.clock.Now()
	e.mu.Unlock()
}

func (e *SyncEngine) dueForStructureSend(articleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastStructureAt[articleID]
	return !ok || e.clock.Now().Sub(last) >= e.opts.StructureThrottle
}

func (e *SyncEngine) markStructureSendAttempt(articleID string) {
	e.mu.Lock()
	e.lastStructureAt[articleID] = e.clock.Now()
	e.mu.Unlock()
}

// flushArticleOutline runs at most two compact passes for one article,
// re-reading the outbox between passes so a delete that arrives racing
// the first pass's send is picked up by the second, then — only if no
// content op remains queued — sends any pending save_doc_json and
// structure_snapshot (spec.md §4.4's content-before-structure ordering).
func (e *SyncEngine) flushArticleOutline(ctx context.Context, articleID string) error {
	skip := map[string]bool{}
	for pass := 0; pass < 2; pass++ {
		ops, err := e.outbox.OutlineOpsForArticle(ctx, articleID)
		if err != nil {
			return err
		}
		ops = excludeOpIDs(ops, skip)
		deletes, upserts, err := decodeContentOps(ops)
		if err != nil {
			return err
		}
		deletes, upserts, err = dropUpsertsCoveredByDeletes(ctx, e.outbox, deletes, upserts)
		if err != nil {
			return err
		}
		if len(deletes) == 0 && len(upserts) == 0 {
			break
		}
		newlyCreated, err := e.sendCompact(ctx, articleID, deletes, upserts)
		if err != nil {
			return err
		}
		for _, id := range newlyCreated {
			skip[id] = true
		}
	}

	remaining, err := e.outbox.OutlineOpsForArticle(ctx, articleID)
	if err != nil {
		return err
	}
	if hasContentOps(remaining) {
		// A second pass still left content queued (ack came back
		// conflict/duplicate needing another round, or a new edit raced
		// in); leave structure for the next flush attempt.
		return nil
	}

	if err := e.sendSaveDocJSONIfPending(ctx, articleID, remaining); err != nil {
		return err
	}
	if err := e.sendStructureIfDue(ctx, articleID, remaining); err != nil {
		return err
	}

	stillHasOutline, err := e.outbox.HasOutlineOps(ctx, articleID)
	if err != nil {
		return err
	}
	if !stillHasOutline {
		if err := e.cache.ClearCachedArticleLocalDraft(ctx, articleID); err != nil {
			return err
		}
	}
	return nil
}

func excludeOpIDs(ops []types.OutboxOp, skip map[string]bool) []types.OutboxOp {
	if len(skip) == 0 {
		return ops
	}
	out := make([]types.OutboxOp, 0, len(ops))
	for _, op := range ops {
		if !skip[op.ID] {
			out = append(out, op)
		}
	}
	return out
}

func hasContentOps(ops []types.OutboxOp) bool {
	for _, op := range ops {
		if op.Type == types.OpSectionUpsertContent || op.Type == types.OpDeleteSections {
			return true
		}
	}
	return false
}

// isAuthError reports whether err (or something it wraps) is an auth
// HttpError — the one failure mode that stops the whole flush rather
// than just the current article or op.
func isAuthError(err error) bool {
	var httpErr *types.HttpError
	return errors.As(err, &httpErr) && httpErr.Kind == types.HttpAuth
}

// classifyAndHandle applies the standard retry/drop/auth handling to a
// transport failure for a batch of op ids: auth stops the flush, a
// permanent failure drops the ops (silently for 404/410, with a warning
// for any other status), a retryable failure marks
// them with the error and leaves them queued.
func (e *SyncEngine) classifyAndHandle(ctx context.Context, err error, opIDs []string) error {
	var httpErr *types.HttpError
	if !errors.As(err, &httpErr) {
		return err
	}
	switch httpErr.Kind {
	case types.HttpAuth:
		for _, id := range opIDs {
			_ = e.outbox.MarkError(ctx, id, err.Error())
		}
		return err
	case types.HttpPermanent:
		if rmErr := e.outbox.RemoveMatching(ctx, opIDs); rmErr != nil {
			return rmErr
		}
		if httpErr.Status != 404 && httpErr.Status != 410 {
			e.log.Warn("dropping op(s) after permanent error", "err", err, "opCount", len(opIDs))
		}
		return nil
	default: // retryable
		for _, id := range opIDs {
			_ = e.outbox.MarkError(ctx, id, err.Error())
		}
		return err
	}
}
