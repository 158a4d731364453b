package eventbus

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	// StreamOutlineEvents is the JetStream stream durable events are
	// published to when NATS is configured (SPEC_FULL.md §11: "optional
	// durable publish ... alongside the in-process dispatch the spec
	// requires").
	StreamOutlineEvents = "OUTLINE_EVENTS"

	// SubjectOutlinePrefix is the subject prefix for every event type.
	SubjectOutlinePrefix = "outlinesync."
)

// SubjectForEvent returns the NATS subject for a given event type.
func SubjectForEvent(eventType EventType) string {
	return SubjectOutlinePrefix + string(eventType)
}

// EnsureStreams creates the durable event stream if it doesn't already
// exist. Called once at startup when a NATS URL is configured.
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamOutlineEvents); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamOutlineEvents,
			Subjects: []string{SubjectOutlinePrefix + ">"},
			Storage:  nats.FileStorage,
			MaxMsgs:  10000,
			MaxBytes: 100 << 20,
		})
		if err != nil {
			return fmt.Errorf("create %s stream: %w", StreamOutlineEvents, err)
		}
	}
	return nil
}
