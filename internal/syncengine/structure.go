package syncengine

import (
	"context"
	"encoding/json"

	"github.com/noteweave/outlinesync/internal/httpapi"
	"github.com/noteweave/outlinesync/internal/types"
)

// sendStructureIfDue transmits the one coalesced structure_snapshot op
// pending for articleID, if any, and if the per-article 3s throttle has
// elapsed. A structure_snapshot left queued because the throttle hasn't
// elapsed yet, or because the server reported it stale, is simply tried
// again on a later flush.
func (e *SyncEngine) sendStructureIfDue(ctx context.Context, articleID string, remaining []types.OutboxOp) error {
	var op *types.OutboxOp
	for i := range remaining {
		if remaining[i].Type == types.OpStructureSnapshot {
			op = &remaining[i]
			break
		}
	}
	if op == nil {
		return nil
	}
	if !e.dueForStructureSend(articleID) {
		return nil
	}
	e.markStructureSendAttempt(articleID)

	var payload types.StructureSnapshotPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return err
	}

	art, found, err := e.cache.GetCachedArticle(ctx, articleID)
	if err != nil {
		return err
	}
	var baseRev int64
	if found {
		baseRev = art.OutlineStructureRev
	}

	req := httpapi.StructureSnapshotRequest{OpID: payload.OpID, BaseStructureRev: baseRev}
	for _, n := range payload.Nodes {
		req.Nodes = append(req.Nodes, httpapi.StructureSnapshotNode{
			SectionID: n.SectionID,
			ParentID:  n.ParentID,
			Position:  n.Position,
			Collapsed: n.Collapsed,
		})
	}

	resp, err := e.transport.StructureSnapshot(ctx, articleID, req)
	if err != nil {
		return e.classifyAndHandle(ctx, err, []string{op.ID})
	}

	switch resp.Status {
	case httpapi.StructureStale:
		// Leave it queued; a full-pull reconciliation will refresh the
		// cached rev and tree before the next attempt.
		return nil
	case httpapi.StructureOK, httpapi.StructureDuplicate:
		if resp.NewStructureRev != nil {
			if err := e.cache.TouchCachedArticleOutlineStructureRev(ctx, articleID, *resp.NewStructureRev); err != nil {
				return err
			}
		}
		if found && art.DocJSON != nil {
			var doc types.Doc
			if err := json.Unmarshal([]byte(*art.DocJSON), &doc); err == nil {
				if shapeErr := applyStructureSnapshot(&doc, payload.Nodes, e.opts.StrictStructureAck); shapeErr != nil {
					e.log.Warn("structure snapshot ack reshape failed", "articleId", articleID, "err", shapeErr)
				} else {
					newJSON, err := json.Marshal(doc)
					if err != nil {
						return err
					}
					updatedAt := art.UpdatedAt
					if resp.UpdatedAt != nil {
						updatedAt = *resp.UpdatedAt
					}
					if err := e.cache.ApplyFlushResult(ctx, articleID, string(newJSON), updatedAt); err != nil {
						return err
					}
				}
			}
		}
		return e.outbox.Remove(ctx, op.ID)
	default:
		return nil
	}
}
