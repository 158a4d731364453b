// Package types defines the core data model shared across the outline
// sync engine: cached articles, outline sections, embeddings, media, and
// the outbox of pending operations.
package types

// InboxArticleID is the reserved article id used for quick-capture notes.
const InboxArticleID = "inbox"

// Article is the cached, local representation of a server article.
//
// localDraft tracks whether the cache holds edits the server has not yet
// confirmed; see Cache.CacheArticle for the invariant that protects it.
type Article struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	UpdatedAt           string  `json:"updatedAt"` // ISO-8601, server-assigned
	ParentID            *string `json:"parentId"`
	Position            int     `json:"position"`
	PublicSlug          *string `json:"publicSlug"`
	Encrypted           bool    `json:"encrypted"`
	DeletedAt           *string `json:"deletedAt"`
	OutlineStructureRev int64   `json:"outlineStructureRev"`
	DocJSON             *string `json:"docJson"` // serialized outline tree, nil if never pulled
	LocalDraft          bool    `json:"localDraft"`
}

// IsInbox reports whether this is the reserved quick-notes article.
func (a *Article) IsInbox() bool {
	return a != nil && a.ID == InboxArticleID
}

// IndexRow is the subset of Article fields returned by the server's article
// index listing (no docJson).
type IndexRow struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	UpdatedAt  string  `json:"updatedAt"`
	ParentID   *string `json:"parentId"`
	Position   int     `json:"position"`
	PublicSlug *string `json:"publicSlug"`
	Encrypted  bool    `json:"encrypted"`
}

// ToArticle converts an index row into a bare Article (no docJson, no
// structure rev — those are only known once the full article is fetched).
func (r IndexRow) ToArticle() *Article {
	return &Article{
		ID:         r.ID,
		Title:      r.Title,
		UpdatedAt:  r.UpdatedAt,
		ParentID:   r.ParentID,
		Position:   r.Position,
		PublicSlug: r.PublicSlug,
		Encrypted:  r.Encrypted,
	}
}
