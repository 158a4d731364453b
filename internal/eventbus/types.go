package eventbus

import (
	"encoding/json"
	"time"
)

// EventType names one of the cooperative-scheduler triggers or
// observable notifications spec.md §9 calls for: "online",
// "visibility-hidden", and "outbox-changed" drive the scheduler itself;
// "outline-sync-conflict" and "full-pull-progress" are the observable
// events the sync engine and full-pull sweep emit for the rest of the
// app (status bar, conflict toast) to react to, and "flush-started" /
// "flush-finished" bracket each sync engine flush pass.
type EventType string

const (
	EventOnline           EventType = "online"
	EventVisibilityHidden EventType = "visibility-hidden"
	EventOutboxChanged    EventType = "outbox-changed"
	EventOutlineConflict  EventType = "outline-sync-conflict"
	EventFullPullProgress EventType = "full-pull-progress"
	EventFlushStarted     EventType = "flush-started"
	EventFlushFinished    EventType = "flush-finished"
)

// Event is a single notification flowing through the bus.
type Event struct {
	Type      EventType       `json:"type"`
	ArticleID string          `json:"article_id,omitempty"`
	Raw       json.RawMessage `json:"-"`

	// OriginalSectionID/ConflictCopySectionID are set on
	// EventOutlineConflict (spec.md §4.5).
	OriginalSectionID     string `json:"original_section_id,omitempty"`
	ConflictCopySectionID string `json:"conflict_copy_section_id,omitempty"`

	// Phase/Err are set on EventFullPullProgress (spec.md §4.6).
	Phase string `json:"phase,omitempty"`
	Err   string `json:"err,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
}
