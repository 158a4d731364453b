package syncengine

import (
	"context"

	"github.com/noteweave/outlinesync/internal/httpapi"
	"github.com/noteweave/outlinesync/internal/types"
)

// treeOpKinds maps the structural article op types to their tree-op
// endpoint. Move-up and move-down both post to the "move" endpoint; the
// direction travels in the op's opaque payload.
var treeOpKinds = map[types.OpType]httpapi.TreeOpKind{
	types.OpMoveArticleUp:   httpapi.TreeOpMove,
	types.OpMoveArticleDown: httpapi.TreeOpMove,
	types.OpIndentArticle:   httpapi.TreeOpIndent,
	types.OpOutdentArticle:  httpapi.TreeOpOutdent,
	types.OpMoveArticleTree: httpapi.TreeOpMoveTree,
}

// drainStructuralOps sends every pending non-outline op one at a time,
// in the FIFO order ReadPending already returns them in (spec.md §4.4:
// structural ops flush strictly after outline ops, serialized rather
// than batched, since each one mutates global tree position).
func (e *SyncEngine) drainStructuralOps(ctx context.Context) error {
	ops, err := e.outbox.ReadPending(ctx, maxFlushBatch)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Type.IsOutline() {
			continue
		}
		if err := e.sendStructuralOp(ctx, op); err != nil {
			if isAuthError(err) {
				return err
			}
			e.log.Warn("structural op failed", "opId", op.ID, "type", op.Type, "err", err)
		}
	}
	return nil
}

func (e *SyncEngine) sendStructuralOp(ctx context.Context, op types.OutboxOp) error {
	if op.Type == types.OpCreateArticle {
		resp, err := e.transport.CreateArticle(ctx, op.Payload)
		if err != nil {
			return e.classifyAndHandle(ctx, err, []string{op.ID})
		}
		if err := e.cache.CacheArticle(ctx, *articleResponseToArticle(resp)); err != nil {
			return err
		}
		return e.outbox.Remove(ctx, op.ID)
	}

	kind, ok := treeOpKinds[op.Type]
	if !ok {
		// Unknown structural op type; drop it rather than loop forever.
		e.log.Warn("dropping unrecognized structural op", "opId", op.ID, "type", op.Type)
		return e.outbox.Remove(ctx, op.ID)
	}
	if err := e.transport.TreeOp(ctx, op.ArticleID, kind, op.Payload); err != nil {
		return e.classifyAndHandle(ctx, err, []string{op.ID})
	}
	return e.outbox.Remove(ctx, op.ID)
}

func articleResponseToArticle(r *httpapi.ArticleResponse) *types.Article {
	docJSON := string(r.DocJSON)
	return &types.Article{
		ID:                  r.ID,
		Title:               r.Title,
		UpdatedAt:           r.UpdatedAt,
		ParentID:            r.ParentID,
		Position:            r.Position,
		PublicSlug:          r.PublicSlug,
		Encrypted:           r.Encrypted,
		OutlineStructureRev: r.OutlineStructureRev,
		DocJSON:             &docJSON,
	}
}
