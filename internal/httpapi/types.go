package httpapi

import "encoding/json"

// AuthMeResponse is the shape of GET /api/auth/me (spec.md §6).
type AuthMeResponse struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"displayName,omitempty"`
	IsSuperuser *bool   `json:"isSuperuser,omitempty"`
}

// ArticleResponse is the shape of GET /api/articles/{id} and the inbox
// equivalent: the index fields plus docJson and outlineStructureRev.
type ArticleResponse struct {
	ID                  string          `json:"id"`
	Title               string          `json:"title"`
	UpdatedAt           string          `json:"updatedAt"`
	ParentID            *string         `json:"parentId"`
	Position            int             `json:"position"`
	PublicSlug          *string         `json:"publicSlug"`
	Encrypted           bool            `json:"encrypted"`
	DocJSON             json.RawMessage `json:"docJson"`
	OutlineStructureRev int64           `json:"outlineStructureRev"`
}

// SaveDocJSONResponse is the shape of PUT /api/articles/{id}/doc-json/save.
type SaveDocJSONResponse struct {
	UpdatedAt       string   `json:"updatedAt"`
	ChangedBlockIDs []string `json:"changedBlockIds,omitempty"`
	RemovedBlockIDs []string `json:"removedBlockIds,omitempty"`
}

// CompactDelete is one delete_sections op carried in a compact request.
type CompactDelete struct {
	OpID       string   `json:"opId"`
	SectionIDs []string `json:"sectionIds"`
}

// CompactUpsert is one section_upsert_content op carried in a compact
// request.
type CompactUpsert struct {
	OpID           string          `json:"opId"`
	SectionID      string          `json:"sectionId"`
	HeadingJSON    json.RawMessage `json:"headingJson"`
	BodyJSON       json.RawMessage `json:"bodyJson"`
	Seq            int64           `json:"seq"`
	ClientQueuedAt int64           `json:"clientQueuedAt"`
}

// CompactRequest is the body of PUT /api/articles/{id}/sync/compact.
type CompactRequest struct {
	Deletes []CompactDelete `json:"deletes"`
	Upserts []CompactUpsert `json:"upserts"`
}

// UpsertAckResult is the per-op result the server reports for a
// section_upsert_content op in a compact response.
type UpsertAckResult string

const (
	ResultOK        UpsertAckResult = "ok"
	ResultDuplicate UpsertAckResult = "duplicate"
	ResultConflict  UpsertAckResult = "conflict"
)

// DeleteAck is the server's per-op result for one delete_sections op.
type DeleteAck struct {
	OpID            string   `json:"opId"`
	RemovedBlockIDs []string `json:"removedBlockIds,omitempty"`
}

// UpsertAck is the server's per-op result for one section_upsert_content op.
type UpsertAck struct {
	OpID      string          `json:"opId"`
	SectionID string          `json:"sectionId"`
	Result    UpsertAckResult `json:"result"`
}

// CompactResponse is the shape of PUT /api/articles/{id}/sync/compact.
type CompactResponse struct {
	UpdatedAt   string      `json:"updatedAt"`
	DeleteAcks  []DeleteAck `json:"deleteAcks,omitempty"`
	UpsertAcks  []UpsertAck `json:"upsertAcks,omitempty"`
}

// StructureSnapshotNode is one node of a structure_snapshot request.
type StructureSnapshotNode struct {
	SectionID string `json:"sectionId"`
	ParentID  string `json:"parentId"`
	Position  int    `json:"position"`
	Collapsed bool   `json:"collapsed"`
}

// StructureSnapshotRequest is the body of PUT /api/articles/{id}/structure/snapshot.
type StructureSnapshotRequest struct {
	Nodes            []StructureSnapshotNode `json:"nodes"`
	OpID             string                  `json:"opId"`
	BaseStructureRev int64                   `json:"baseStructureRev"`
}

// StructureSnapshotStatus is the server's verdict on a structure snapshot.
type StructureSnapshotStatus string

const (
	StructureOK        StructureSnapshotStatus = "ok"
	StructureDuplicate StructureSnapshotStatus = "duplicate"
	StructureStale     StructureSnapshotStatus = "stale"
)

// StructureSnapshotResponse is the shape of PUT /api/articles/{id}/structure/snapshot.
type StructureSnapshotResponse struct {
	Status              StructureSnapshotStatus `json:"status"`
	UpdatedAt           *string                 `json:"updatedAt,omitempty"`
	NewStructureRev     *int64                  `json:"newStructureRev,omitempty"`
	CurrentStructureRev *int64                  `json:"currentStructureRev,omitempty"`
}

// EmbeddingItem is one section's embedding vector.
type EmbeddingItem struct {
	SectionID string    `json:"sectionId"`
	Embedding []float32 `json:"embedding"`
	UpdatedAt *string   `json:"updatedAt,omitempty"`
}

// EmbeddingsResponse is the shape of GET /api/articles/{id}/embeddings.
type EmbeddingsResponse struct {
	Embeddings []EmbeddingItem `json:"embeddings"`
}

// QueryEmbeddingResponse is the shape of GET /api/search/semantic/query-embedding.
type QueryEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// TreeOpKind names one of the structural tree operations in spec.md §6.
type TreeOpKind string

const (
	TreeOpMove    TreeOpKind = "move"
	TreeOpIndent  TreeOpKind = "indent"
	TreeOpOutdent TreeOpKind = "outdent"
	TreeOpMoveTree TreeOpKind = "move-tree"
)
