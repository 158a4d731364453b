package syncengine

// EventKind names one of the events the sync engine emits for the rest of
// the app (status bar, conflict toast, scheduler) to observe.
type EventKind string

const (
	// EventOutlineSyncConflict fires once per conflict-copy materialization
	// (spec.md §4.5): a local edit and a server edit to the same section
	// both won, so the local version was kept under a new section id.
	EventOutlineSyncConflict EventKind = "outline-sync-conflict"

	// EventFlushStarted/EventFlushFinished bracket one flushOutboxOnce call.
	EventFlushStarted  EventKind = "flush-started"
	EventFlushFinished EventKind = "flush-finished"
)

// Event is a single notification out of the sync engine.
type Event struct {
	Kind      EventKind
	ArticleID string
	// ConflictCopySectionID and OriginalSectionID are only set on
	// EventOutlineSyncConflict.
	OriginalSectionID     string
	ConflictCopySectionID string
	// Err is only set on EventFlushFinished, and only when the flush
	// stopped early (e.g. an auth error).
	Err error
}

// EventSink receives sync engine events. Implementations must not block —
// the engine emits synchronously from inside flushOutboxOnce.
type EventSink interface {
	Emit(Event)
}

// NoopEventSink discards every event; the zero value of EventSink callers
// that don't care about notifications.
type NoopEventSink struct{}

func (NoopEventSink) Emit(Event) {}
