package syncengine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/noteweave/outlinesync/internal/types"
)

// conflictCopyPrefix marks the synthetic heading text inserted ahead of a
// conflict-copy section's own heading content (spec.md §4.5).
const conflictCopyPrefix = "Conflict copy: "

// prefixHeadingText inserts a leading text run carrying conflictCopyPrefix
// into an opaque rich-text heading node, preserving everything else about
// the node verbatim. headingJSON is the rich-text "content" array the
// indexer also walks (see indexer.collectText); prefixing it this way
// keeps the original heading text fully intact after the marker.
func prefixHeadingText(headingJSON json.RawMessage) json.RawMessage {
	marker, _ := json.Marshal(map[string]interface{}{
		"type": "text",
		"text": conflictCopyPrefix,
	})

	if len(headingJSON) == 0 {
		wrapped, _ := json.Marshal(map[string]json.RawMessage{
			"content": json.RawMessage("[" + string(marker) + "]"),
		})
		return wrapped
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(headingJSON, &asObject); err == nil {
		if content, ok := asObject["content"]; ok {
			var items []json.RawMessage
			if err := json.Unmarshal(content, &items); err == nil {
				items = append([]json.RawMessage{marker}, items...)
				newContent, _ := json.Marshal(items)
				asObject["content"] = newContent
				out, _ := json.Marshal(asObject)
				return out
			}
		}
	}

	// Heading has no recognizable "content" array (or isn't an object at
	// all); fall back to wrapping the original value untouched alongside
	// the marker so nothing is lost.
	wrapped, _ := json.Marshal(map[string]interface{}{
		"content": []json.RawMessage{marker, headingJSON},
	})
	return wrapped
}

// newConflictCopyNode builds the outlineSection node inserted right after
// the original when a server edit and a pending local edit to the same
// section both won (spec.md §4.5). It carries the local heading (marker
// prepended) and the local body, with a fresh section id so it never
// collides with the section the server now owns.
func newConflictCopyNode(headingJSON, bodyJSON json.RawMessage) *types.OutlineNode {
	return &types.OutlineNode{
		Type:      "outlineSection",
		SectionID: uuid.NewString(),
		Heading:   prefixHeadingText(headingJSON),
		Body:      bodyJSON,
	}
}

// materializeConflictCopy inserts a conflict-copy section into doc right
// after the section the server won, seeds its sequence counter, enqueues
// fresh ops so the copy itself gets synced, and notifies the event sink.
// doc is mutated but not yet persisted — the caller folds the whole tree
// (delete + every upsert/conflict this compact ack covered) into one
// cache write.
// It returns the id of the freshly queued section_upsert_content op so
// the caller can exclude it from this same flush attempt's remaining
// compact passes — a conflict copy waits for the next flush, it never
// chases its own tail within one attempt.
func (e *SyncEngine) materializeConflictCopy(ctx context.Context, articleID string, doc *types.Doc, originalSectionID string, headingJSON, bodyJSON json.RawMessage) (string, error) {
	newNode := newConflictCopyNode(headingJSON, bodyJSON)
	insertAfter(doc, originalSectionID, newNode)

	if err := seedSectionSeq(ctx, e.store, articleID, newNode.SectionID, 1); err != nil {
		return "", err
	}

	upsertPayload, err := json.Marshal(types.SectionUpsertContentPayload{
		SectionID:      newNode.SectionID,
		HeadingJSON:    newNode.Heading,
		BodyJSON:       newNode.Body,
		Seq:            1,
		OpID:           uuid.NewString(),
		ClientQueuedAt: e.clock.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	newOpID, err := e.outbox.EnqueueOp(ctx, types.OpSectionUpsertContent, articleID, upsertPayload, "section:"+newNode.SectionID)
	if err != nil {
		return "", err
	}

	snapshotPayload, err := json.Marshal(types.StructureSnapshotPayload{
		Nodes: buildStructureNodes(doc),
		OpID:  uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	if _, err := e.outbox.EnqueueOp(ctx, types.OpStructureSnapshot, articleID, snapshotPayload, "structure:"+articleID); err != nil {
		return "", err
	}

	e.events.Emit(Event{
		Kind:                  EventOutlineSyncConflict,
		ArticleID:             articleID,
		OriginalSectionID:     originalSectionID,
		ConflictCopySectionID: newNode.SectionID,
	})
	return newOpID, nil
}
