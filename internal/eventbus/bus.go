// Package eventbus dispatches the scheduler's observable events
// (spec.md §9: online, visibility-hidden, outbox-changed, plus the
// sync engine's outline-sync-conflict and full-pull's
// full-pull-progress) to in-process handlers, and optionally mirrors
// them onto a NATS JetStream stream for durable, out-of-process
// consumption.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Bus dispatches events to registered handlers and optionally publishes
// events to NATS JetStream.
type Bus struct {
	handlers []Handler
	js       nats.JetStreamContext
	mu       sync.RWMutex
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{}
}

// SetJetStream attaches a JetStream context for event publishing. When
// set, Dispatch publishes events to JetStream after running local
// handlers. Publishing is fire-and-forget — errors are logged but
// never propagated, since JetStream is supplementary to in-process
// dispatch, not a prerequisite for it.
func (b *Bus) SetJetStream(js nats.JetStreamContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.js = js
}

// JetStreamEnabled returns true if JetStream publishing is configured.
func (b *Bus) JetStreamEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.js != nil
}

// Register adds a handler to the bus. Handlers are sorted by priority on
// each Dispatch call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Unregister removes a handler by ID. Returns true if a handler was removed.
func (b *Bus) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.ID() == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch sends an event to all registered handlers that handle its
// type. Handlers are called sequentially in priority order (lowest
// first). Handler errors are logged but do not stop the chain — the
// bus is resilient, matching spec.md §9's "all handlers must be
// reentrancy-safe" note: a single bad handler should never wedge the
// scheduler loop driving Dispatch.
func (b *Bus) Dispatch(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("eventbus: nil event")
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	js := b.js
	b.mu.RUnlock()

	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("eventbus: context canceled: %w", err)
		}
		if err := h.Handle(ctx, event); err != nil {
			log.Printf("eventbus: handler %q error for %s: %v", h.ID(), event.Type, err)
		}
	}

	if js != nil {
		b.publishToJetStream(js, event)
	}
	return nil
}

// publishToJetStream publishes an event to the durable outline events
// stream. Errors are logged but never propagated.
func (b *Bus) publishToJetStream(js nats.JetStreamContext, event *Event) {
	subject := SubjectForEvent(event.Type)

	var data []byte
	if len(event.Raw) > 0 {
		data = event.Raw
	} else {
		now := time.Now().UTC()
		event.PublishedAt = &now
		var err error
		data, err = json.Marshal(event)
		if err != nil {
			log.Printf("eventbus: failed to marshal event for JetStream: %v", err)
			return
		}
	}

	ack, err := js.Publish(subject, data)
	if err != nil {
		log.Printf("eventbus: JetStream publish to %s failed: %v", subject, err)
		return
	}
	log.Printf("eventbus: JetStream published to %s (stream=%s seq=%d, %d bytes)",
		subject, ack.Stream, ack.Sequence, len(data))
}

// Handlers returns all registered handlers (for introspection/status
// reporting).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers returns handlers that handle the given event type,
// sorted by priority (lowest first). Must be called with at least a
// read lock held.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
