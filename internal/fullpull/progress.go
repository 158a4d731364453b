package fullpull

// Phase names one step of a reconciliation sweep (spec.md §4.6: "Phases:
// idle → index → articles → done|error, emitted as events").
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseIndex    Phase = "index"
	PhaseArticles Phase = "articles"
	PhaseDone     Phase = "done"
	PhaseError    Phase = "error"
)

// Progress is one phase transition of a sweep.
type Progress struct {
	Phase Phase
	Err   error
}

// ProgressSink receives phase transitions as a sweep runs. Implementations
// must not block — a slow sink would stall the sweep itself.
type ProgressSink interface {
	Emit(Progress)
}

// NoopProgressSink discards every event.
type NoopProgressSink struct{}

func (NoopProgressSink) Emit(Progress) {}
