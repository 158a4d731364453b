package syncengine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/noteweave/outlinesync/internal/types"
)

// EnqueueSectionUpsert records a local edit to one section: it stamps the
// next per-section sequence number, writes the edit into the cached
// docJson immediately (so the editor reads back what it just wrote), and
// queues a section_upsert_content op for the next flush.
func (e *SyncEngine) EnqueueSectionUpsert(ctx context.Context, articleID, sectionID string, headingJSON, bodyJSON json.RawMessage) (string, error) {
	seq, err := nextSectionSeq(ctx, e.store, articleID, sectionID)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(types.SectionUpsertContentPayload{
		SectionID:      sectionID,
		HeadingJSON:    headingJSON,
		BodyJSON:       bodyJSON,
		Seq:            seq,
		OpID:           uuid.NewString(),
		ClientQueuedAt: e.clock.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}

	art, found, err := e.cache.GetCachedArticle(ctx, articleID)
	if err == nil && found && art.DocJSON != nil {
		var doc types.Doc
		if err := json.Unmarshal([]byte(*art.DocJSON), &doc); err == nil {
			applyUpsert(&doc, sectionID, headingJSON, bodyJSON)
			if newJSON, err := json.Marshal(doc); err == nil {
				js := string(newJSON)
				_ = e.cache.UpdateCachedDocJSON(ctx, articleID, &js, nil)
			}
		}
	}

	return e.outbox.EnqueueOp(ctx, types.OpSectionUpsertContent, articleID, payload, "section:"+sectionID)
}

// EnqueueDeleteSections queues removal of sectionIDs. Deletes are never
// coalesced against each other — multiple delete batches accumulate so
// every sectionId is still eventually sent, even if a second batch
// arrives before the first has flushed — but a pending upsert for any of
// these sections is dropped at flush time (spec.md §4.4).
func (e *SyncEngine) EnqueueDeleteSections(ctx context.Context, articleID string, sectionIDs []string) (string, error) {
	payload, err := json.Marshal(types.DeleteSectionsPayload{SectionIDs: sectionIDs, OpID: uuid.NewString()})
	if err != nil {
		return "", err
	}

	art, found, err := e.cache.GetCachedArticle(ctx, articleID)
	if err == nil && found && art.DocJSON != nil {
		var doc types.Doc
		if err := json.Unmarshal([]byte(*art.DocJSON), &doc); err == nil {
			applyDeletes(&doc, sectionIDs)
			if newJSON, err := json.Marshal(doc); err == nil {
				js := string(newJSON)
				_ = e.cache.UpdateCachedDocJSON(ctx, articleID, &js, nil)
			}
		}
	}

	return e.outbox.EnqueueOp(ctx, types.OpDeleteSections, articleID, payload, "")
}

// EnqueueStructureSnapshot queues the current tree shape as derived from
// the cached docJson. Repeated calls coalesce — only the latest shape
// for an article is ever in flight.
func (e *SyncEngine) EnqueueStructureSnapshot(ctx context.Context, articleID string) (string, error) {
	art, found, err := e.cache.GetCachedArticle(ctx, articleID)
	if err != nil {
		return "", err
	}
	if !found || art.DocJSON == nil {
		return "", nil
	}
	var doc types.Doc
	if err := json.Unmarshal([]byte(*art.DocJSON), &doc); err != nil {
		return "", err
	}
	payload, err := json.Marshal(types.StructureSnapshotPayload{
		Nodes: buildStructureNodes(&doc),
		OpID:  uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	return e.outbox.EnqueueOp(ctx, types.OpStructureSnapshot, articleID, payload, "structure:"+articleID)
}
