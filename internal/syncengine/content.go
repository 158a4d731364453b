package syncengine

import (
	"context"
	"encoding/json"

	"github.com/noteweave/outlinesync/internal/httpapi"
	"github.com/noteweave/outlinesync/internal/outbox"
	"github.com/noteweave/outlinesync/internal/types"
)

type decodedDelete struct {
	op      types.OutboxOp
	payload types.DeleteSectionsPayload
}

type decodedUpsert struct {
	op      types.OutboxOp
	payload types.SectionUpsertContentPayload
}

func decodeContentOps(ops []types.OutboxOp) (deletes []decodedDelete, upserts []decodedUpsert, err error) {
	for _, op := range ops {
		switch op.Type {
		case types.OpDeleteSections:
			var p types.DeleteSectionsPayload
			if err := json.Unmarshal(op.Payload, &p); err != nil {
				return nil, nil, err
			}
			deletes = append(deletes, decodedDelete{op: op, payload: p})
		case types.OpSectionUpsertContent:
			var p types.SectionUpsertContentPayload
			if err := json.Unmarshal(op.Payload, &p); err != nil {
				return nil, nil, err
			}
			upserts = append(upserts, decodedUpsert{op: op, payload: p})
		}
	}
	return deletes, upserts, nil
}

// dropUpsertsCoveredByDeletes removes, from both the outbox and the
// batch about to be sent, any section_upsert_content op for a section
// already covered by a pending delete_sections op (spec.md §4.4: delete
// wins over upsert within the same flush pass).
func dropUpsertsCoveredByDeletes(ctx context.Context, ob *outbox.Outbox, deletes []decodedDelete, upserts []decodedUpsert) ([]decodedDelete, []decodedUpsert, error) {
	if len(deletes) == 0 {
		return deletes, upserts, nil
	}
	deleted := map[string]bool{}
	for _, d := range deletes {
		for _, id := range d.payload.SectionIDs {
			deleted[id] = true
		}
	}

	kept := make([]decodedUpsert, 0, len(upserts))
	var toDrop []string
	for _, u := range upserts {
		if deleted[u.payload.SectionID] {
			toDrop = append(toDrop, u.op.ID)
			continue
		}
		kept = append(kept, u)
	}
	if len(toDrop) > 0 {
		if err := ob.RemoveMatching(ctx, toDrop); err != nil {
			return nil, nil, err
		}
	}
	return deletes, kept, nil
}

// sendCompact transmits one compact request covering deletes and
// upserts, then folds the ack into the cached docJson and removes the
// acked ops from the outbox. It returns the ids of any conflict-copy
// upsert ops it freshly enqueued, so the caller can exclude them from
// this same flush attempt's remaining passes.
func (e *SyncEngine) sendCompact(ctx context.Context, articleID string, deletes []decodedDelete, upserts []decodedUpsert) ([]string, error) {
	req := httpapi.CompactRequest{}
	for _, d := range deletes {
		req.Deletes = append(req.Deletes, httpapi.CompactDelete{OpID: d.op.ID, SectionIDs: d.payload.SectionIDs})
	}
	for _, u := range upserts {
		req.Upserts = append(req.Upserts, httpapi.CompactUpsert{
			OpID:           u.op.ID,
			SectionID:      u.payload.SectionID,
			HeadingJSON:    u.payload.HeadingJSON,
			BodyJSON:       u.payload.BodyJSON,
			Seq:            u.payload.Seq,
			ClientQueuedAt: u.payload.ClientQueuedAt,
		})
	}

	resp, err := e.transport.Compact(ctx, articleID, req)
	if err != nil {
		opIDs := make([]string, 0, len(deletes)+len(upserts))
		for _, d := range deletes {
			opIDs = append(opIDs, d.op.ID)
		}
		for _, u := range upserts {
			opIDs = append(opIDs, u.op.ID)
		}
		return nil, e.classifyAndHandle(ctx, err, opIDs)
	}

	upsertByOpID := make(map[string]decodedUpsert, len(upserts))
	for _, u := range upserts {
		upsertByOpID[u.op.ID] = u
	}

	art, found, err := e.cache.GetCachedArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	var doc types.Doc
	if found && art.DocJSON != nil {
		if err := json.Unmarshal([]byte(*art.DocJSON), &doc); err != nil {
			e.log.Warn("cached docJson is corrupt, starting from empty tree", "articleId", articleID, "err", err)
			doc = types.Doc{}
		}
	}

	var allDeletedIDs []string
	for _, d := range deletes {
		allDeletedIDs = append(allDeletedIDs, d.payload.SectionIDs...)
	}
	applyDeletes(&doc, allDeletedIDs)

	var toRemove []string
	var conflictCopyOpIDs []string
	for _, ack := range resp.DeleteAcks {
		toRemove = append(toRemove, ack.OpID)
	}
	for _, ack := range resp.UpsertAcks {
		toRemove = append(toRemove, ack.OpID)
		u, ok := upsertByOpID[ack.OpID]
		if !ok {
			continue
		}
		switch ack.Result {
		case httpapi.ResultOK, httpapi.ResultDuplicate:
			applyUpsert(&doc, ack.SectionID, u.payload.HeadingJSON, u.payload.BodyJSON)
		case httpapi.ResultConflict:
			newOpID, err := e.materializeConflictCopy(ctx, articleID, &doc, ack.SectionID, u.payload.HeadingJSON, u.payload.BodyJSON)
			if err != nil {
				e.log.Warn("failed to materialize conflict copy", "articleId", articleID, "sectionId", ack.SectionID, "err", err)
			} else {
				conflictCopyOpIDs = append(conflictCopyOpIDs, newOpID)
			}
		}
	}

	newDocJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if err := e.cache.ApplyFlushResult(ctx, articleID, string(newDocJSON), resp.UpdatedAt); err != nil {
		return nil, err
	}
	if err := e.outbox.RemoveMatching(ctx, toRemove); err != nil {
		return nil, err
	}
	return conflictCopyOpIDs, nil
}

// sendSaveDocJSONIfPending sends at most one queued bulk docJson save —
// coalescing guarantees there is never more than one per article.
func (e *SyncEngine) sendSaveDocJSONIfPending(ctx context.Context, articleID string, remaining []types.OutboxOp) error {
	for _, op := range remaining {
		if op.Type != types.OpSaveDocJSON {
			continue
		}
		resp, err := e.transport.SaveDocJSON(ctx, articleID, op.Payload)
		if err != nil {
			return e.classifyAndHandle(ctx, err, []string{op.ID})
		}
		if err := e.cache.ApplyFlushResult(ctx, articleID, string(op.Payload), resp.UpdatedAt); err != nil {
			return err
		}
		return e.outbox.Remove(ctx, op.ID)
	}
	return nil
}
