package types

// OpType identifies the kind of operation queued in the outbox.
type OpType string

const (
	// Outline ops, subject to the content-before-structure ordering
	// invariant (see syncengine).
	OpSectionUpsertContent OpType = "section_upsert_content"
	OpDeleteSections       OpType = "delete_sections"
	OpStructureSnapshot    OpType = "structure_snapshot"
	OpSaveDocJSON          OpType = "save_doc_json"

	// Structural article ops, flushed one at a time after outline ops drain.
	OpCreateArticle    OpType = "create_article"
	OpMoveArticleUp    OpType = "move_article_up"
	OpMoveArticleDown  OpType = "move_article_down"
	OpIndentArticle    OpType = "indent_article"
	OpOutdentArticle   OpType = "outdent_article"
	OpMoveArticleTree  OpType = "move_article_tree"
)

// IsOutline reports whether this op type participates in the outline
// flush ordering (content upserts/deletes before structure snapshots).
func (t OpType) IsOutline() bool {
	switch t {
	case OpSectionUpsertContent, OpDeleteSections, OpStructureSnapshot, OpSaveDocJSON:
		return true
	default:
		return false
	}
}

// OutboxOp is a single durable pending operation.
type OutboxOp struct {
	ID            string `json:"id"`
	CreatedAtMs   int64  `json:"createdAtMs"`
	Type          OpType `json:"type"`
	ArticleID     string `json:"articleId"`
	Payload       []byte `json:"payload"` // opaque per-type JSON
	CoalesceKey   string `json:"coalesceKey,omitempty"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"lastError,omitempty"`
	LastAttemptAt *int64 `json:"lastAttemptAt,omitempty"`
}

// SectionUpsertContentPayload is the payload for OpSectionUpsertContent.
type SectionUpsertContentPayload struct {
	SectionID      string `json:"sectionId"`
	HeadingJSON    []byte `json:"headingJson"`
	BodyJSON       []byte `json:"bodyJson"`
	Seq            int64  `json:"seq"`
	OpID           string `json:"opId"`
	ClientQueuedAt int64  `json:"clientQueuedAt"`
}

// DeleteSectionsPayload is the payload for OpDeleteSections.
type DeleteSectionsPayload struct {
	SectionIDs []string `json:"sectionIds"`
	OpID       string   `json:"opId"`
}

// StructureNode is one entry of a structure_snapshot payload.
type StructureNode struct {
	SectionID string `json:"sectionId"`
	ParentID  string `json:"parentId"`
	Position  int    `json:"position"`
	Collapsed bool   `json:"collapsed"`
}

// StructureSnapshotPayload is the payload for OpStructureSnapshot.
type StructureSnapshotPayload struct {
	Nodes            []StructureNode `json:"nodes"`
	OpID             string          `json:"opId"`
	BaseStructureRev int64           `json:"baseStructureRev"`
}
