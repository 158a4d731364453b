package scheduler

import (
	"context"

	"github.com/noteweave/outlinesync/internal/eventbus"
	"github.com/noteweave/outlinesync/internal/fullpull"
	"github.com/noteweave/outlinesync/internal/syncengine"
)

// syncEventBridge adapts syncengine.EventSink onto the shared event
// bus, so conflict-copy and flush notifications reach the same
// handlers as the scheduler's own online/outbox-changed triggers.
// syncengine.EventSink.Emit must not block (its doc comment says so);
// eventbus.Dispatch runs handlers synchronously, so handlers
// registered for these event types must stay fast and non-blocking.
type syncEventBridge struct {
	bus *eventbus.Bus
}

func (b syncEventBridge) Emit(e syncengine.Event) {
	evt := &eventbus.Event{
		Type:                  eventTypeFor(e.Kind),
		ArticleID:             e.ArticleID,
		OriginalSectionID:     e.OriginalSectionID,
		ConflictCopySectionID: e.ConflictCopySectionID,
	}
	if e.Err != nil {
		evt.Err = e.Err.Error()
	}
	_ = b.bus.Dispatch(context.Background(), evt)
}

func eventTypeFor(kind syncengine.EventKind) eventbus.EventType {
	switch kind {
	case syncengine.EventOutlineSyncConflict:
		return eventbus.EventOutlineConflict
	case syncengine.EventFlushStarted:
		return eventbus.EventFlushStarted
	default:
		return eventbus.EventFlushFinished
	}
}

// fullPullEventBridge adapts fullpull.ProgressSink onto the event bus.
type fullPullEventBridge struct {
	bus *eventbus.Bus
}

func (b fullPullEventBridge) Emit(p fullpull.Progress) {
	evt := &eventbus.Event{
		Type:  eventbus.EventFullPullProgress,
		Phase: string(p.Phase),
	}
	if p.Err != nil {
		evt.Err = p.Err.Error()
	}
	_ = b.bus.Dispatch(context.Background(), evt)
}
