package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	id       string
	priority int
	handles  []EventType
	seen     *[]string
	failOn   EventType
}

func (h *recordingHandler) ID() string           { return h.id }
func (h *recordingHandler) Handles() []EventType { return h.handles }
func (h *recordingHandler) Priority() int         { return h.priority }
func (h *recordingHandler) Handle(ctx context.Context, e *Event) error {
	*h.seen = append(*h.seen, h.id)
	if h.failOn == e.Type {
		return context.DeadlineExceeded
	}
	return nil
}

func TestDispatchCallsHandlersInPriorityOrder(t *testing.T) {
	var seen []string
	b := New()
	b.Register(&recordingHandler{id: "late", priority: 20, handles: []EventType{EventOnline}, seen: &seen})
	b.Register(&recordingHandler{id: "early", priority: 10, handles: []EventType{EventOnline}, seen: &seen})

	require.NoError(t, b.Dispatch(context.Background(), &Event{Type: EventOnline}))
	require.Equal(t, []string{"early", "late"}, seen)
}

func TestDispatchSkipsHandlersForOtherEventTypes(t *testing.T) {
	var seen []string
	b := New()
	b.Register(&recordingHandler{id: "conflict-only", priority: 10, handles: []EventType{EventOutlineConflict}, seen: &seen})

	require.NoError(t, b.Dispatch(context.Background(), &Event{Type: EventOutboxChanged}))
	require.Empty(t, seen)
}

func TestDispatchContinuesAfterHandlerError(t *testing.T) {
	var seen []string
	b := New()
	b.Register(&recordingHandler{id: "failing", priority: 10, handles: []EventType{EventOnline}, seen: &seen, failOn: EventOnline})
	b.Register(&recordingHandler{id: "ok", priority: 20, handles: []EventType{EventOnline}, seen: &seen})

	require.NoError(t, b.Dispatch(context.Background(), &Event{Type: EventOnline}))
	require.Equal(t, []string{"failing", "ok"}, seen)
}

func TestUnregisterRemovesHandler(t *testing.T) {
	var seen []string
	b := New()
	b.Register(&recordingHandler{id: "h1", priority: 10, handles: []EventType{EventOnline}, seen: &seen})

	require.True(t, b.Unregister("h1"))
	require.NoError(t, b.Dispatch(context.Background(), &Event{Type: EventOnline}))
	require.Empty(t, seen)
}

func TestDispatchNilEventErrors(t *testing.T) {
	b := New()
	require.Error(t, b.Dispatch(context.Background(), nil))
}

func TestSubjectForEventUsesOutlinePrefix(t *testing.T) {
	require.Equal(t, "outlinesync.outbox-changed", SubjectForEvent(EventOutboxChanged))
}
