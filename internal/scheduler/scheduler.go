// Package scheduler implements the cooperative scheduler spec.md §9
// calls for in place of timer/interval loops: three triggers — online,
// visibility-hidden, and outbox-changed — plus a monotonic fallback
// interval that only runs while the outbox is non-empty. It drives
// internal/syncengine's flush pass, internal/fullpull's reconciliation
// sweep, and internal/mediaprefetch's poll tick, and retries a failed
// flush with exponential backoff rather than hammering the server on
// the fallback interval alone.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/noteweave/outlinesync/internal/eventbus"
	"github.com/noteweave/outlinesync/internal/fullpull"
	"github.com/noteweave/outlinesync/internal/mediaprefetch"
	"github.com/noteweave/outlinesync/internal/outbox"
	"github.com/noteweave/outlinesync/internal/quicknotes"
	"github.com/noteweave/outlinesync/internal/syncengine"
	"github.com/noteweave/outlinesync/internal/types"
)

// Flusher is the subset of *syncengine.SyncEngine the scheduler drives.
type Flusher interface {
	FlushOutboxOnce(ctx context.Context) error
}

// Puller is the subset of *fullpull.Puller the scheduler drives.
type Puller interface {
	Run(ctx context.Context) error
}

// Prefetcher is the subset of *mediaprefetch.Prefetcher the scheduler
// drives.
type Prefetcher interface {
	Tick(ctx context.Context, online bool, hint mediaprefetch.NetworkHint) error
}

// Options tunes the scheduler's intervals.
type Options struct {
	// MediaPrefetchInterval is the poll tick spec.md §4.7 specifies (~1.2s).
	MediaPrefetchInterval time.Duration
	// FallbackFlushInterval is the monotonic fallback spec.md §9 describes;
	// it only fires while the outbox holds at least one op.
	FallbackFlushInterval time.Duration
	// Backoff builds the retry policy used after a retryable flush
	// failure. Defaults to backoff.NewExponentialBackOff() with no max
	// elapsed time (the scheduler itself decides when to stop retrying,
	// by simply running forever on the fallback interval).
	Backoff func() backoff.BackOff
}

// DefaultOptions returns spec.md's stated intervals.
func DefaultOptions() Options {
	return Options{
		MediaPrefetchInterval: 1200 * time.Millisecond,
		FallbackFlushInterval: 30 * time.Second,
		Backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Scheduler is the single long-lived cooperative loop tying the sync
// engine, full-pull sweeper, and media prefetcher together.
type Scheduler struct {
	flusher    Flusher
	puller     Puller
	prefetcher Prefetcher
	notes      *quicknotes.Bridge
	outbox     *outbox.Outbox
	bus        *eventbus.Bus
	opts       Options
	log        *slog.Logger

	mu     sync.Mutex
	online bool
	hint   mediaprefetch.NetworkHint
	bo     backoff.BackOff

	retryTimer *time.Timer
	retryCh    chan struct{}
}

// New constructs a Scheduler. notes and bus may be nil if the caller
// has no quick-notes bridge or event bus wired yet.
func New(flusher Flusher, puller Puller, prefetcher Prefetcher, notes *quicknotes.Bridge, ob *outbox.Outbox, bus *eventbus.Bus, opts Options) *Scheduler {
	if opts.MediaPrefetchInterval == 0 {
		opts.MediaPrefetchInterval = DefaultOptions().MediaPrefetchInterval
	}
	if opts.FallbackFlushInterval == 0 {
		opts.FallbackFlushInterval = DefaultOptions().FallbackFlushInterval
	}
	if opts.Backoff == nil {
		opts.Backoff = DefaultOptions().Backoff
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Scheduler{
		flusher:    flusher,
		puller:     puller,
		prefetcher: prefetcher,
		notes:      notes,
		outbox:     ob,
		bus:        bus,
		opts:       opts,
		log:        slog.Default().With("component", "scheduler"),
		bo:         opts.Backoff(),
		retryCh:    make(chan struct{}, 1),
	}
}

// SetDependents wires the concrete Flusher/Puller/Prefetcher in after
// construction. It exists because syncengine.New and fullpull.New both
// need this scheduler's event sinks (SyncEventSink/FullPullProgressSink)
// before the engine or puller exist, so a caller builds the scheduler
// first with nil dependents, builds the engine/puller/prefetcher against
// its sinks, then calls SetDependents once before Run. It must not be
// called concurrently with Run.
func (s *Scheduler) SetDependents(flusher Flusher, puller Puller, prefetcher Prefetcher) {
	s.flusher = flusher
	s.puller = puller
	s.prefetcher = prefetcher
}

// SyncEventSink returns a syncengine.EventSink bridging engine events
// onto this scheduler's bus, for passing to syncengine.New.
func (s *Scheduler) SyncEventSink() syncengine.EventSink { return syncEventBridge{bus: s.bus} }

// FullPullProgressSink returns a fullpull.ProgressSink bridging sweep
// progress onto this scheduler's bus, for passing to fullpull.New.
func (s *Scheduler) FullPullProgressSink() fullpull.ProgressSink { return fullPullEventBridge{bus: s.bus} }

// Bus returns the scheduler's event bus so callers can register
// handlers (status bar, conflict toast, etc.) before calling Run.
func (s *Scheduler) Bus() *eventbus.Bus { return s.bus }

// SetNetworkHint updates the hint used for the next media prefetch tick.
func (s *Scheduler) SetNetworkHint(hint mediaprefetch.NetworkHint) {
	s.mu.Lock()
	s.hint = hint
	s.mu.Unlock()
}

func (s *Scheduler) currentHint() mediaprefetch.NetworkHint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hint
}

// SetOnline flips the online signal. A false→true transition triggers
// an immediate flush attempt and a full-pull sweep (spec.md §9's
// "online" trigger), the same way a false value suppresses media
// prefetch ticks until connectivity returns.
func (s *Scheduler) SetOnline(ctx context.Context, online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	s.mu.Unlock()

	if online && !was {
		_ = s.bus.Dispatch(ctx, &eventbus.Event{Type: eventbus.EventOnline})
		s.requestFlush()
		if s.puller != nil {
			go func() {
				if err := s.puller.Run(ctx); err != nil {
					s.log.Warn("full-pull sweep failed", "err", err)
				}
			}()
		}
	}
}

func (s *Scheduler) isOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// NotifyVisibilityHidden is the "visibility-hidden" trigger: flush
// once before the app is backgrounded, best-effort.
func (s *Scheduler) NotifyVisibilityHidden(ctx context.Context) {
	_ = s.bus.Dispatch(ctx, &eventbus.Event{Type: eventbus.EventVisibilityHidden})
	s.requestFlush()
}

// requestFlush nudges Run's select loop to attempt a flush on its next
// iteration, coalescing multiple requests the way the outbox's own
// Changed() channel coalesces writes (internal/outbox.signal).
func (s *Scheduler) requestFlush() {
	select {
	case s.retryCh <- struct{}{}:
	default:
	}
}

// Run drives the cooperative loop until ctx is canceled. It is meant
// to be called once, from a single long-lived goroutine — the "single
// long-lived value with injected dependencies" design note spec.md §9
// describes, generalized from SyncEngine to the scheduler that drives
// it.
func (s *Scheduler) Run(ctx context.Context) error {
	mediaTicker := time.NewTicker(s.opts.MediaPrefetchInterval)
	defer mediaTicker.Stop()
	fallback := time.NewTicker(s.opts.FallbackFlushInterval)
	defer fallback.Stop()

	var outboxChanged <-chan struct{}
	if s.outbox != nil {
		outboxChanged = s.outbox.Changed()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-outboxChanged:
			s.flushWithBackoff(ctx)

		case <-s.retryCh:
			s.flushWithBackoff(ctx)

		case <-fallback.C:
			if s.outboxHasWork(ctx) {
				s.flushWithBackoff(ctx)
			}

		case <-mediaTicker.C:
			if err := s.prefetcher.Tick(ctx, s.isOnline(), s.currentHint()); err != nil {
				s.log.Warn("media prefetch tick failed", "err", err)
			}
		}
	}
}

func (s *Scheduler) outboxHasWork(ctx context.Context) bool {
	if s.outbox == nil {
		return false
	}
	pending, err := s.outbox.ReadPending(ctx, 1)
	if err != nil {
		s.log.Warn("read pending outbox ops failed", "err", err)
		return false
	}
	return len(pending) > 0
}

// flushWithBackoff runs one flush pass. A retryable failure schedules
// a retry after the next exponential backoff interval instead of
// waiting for the fallback ticker; success resets the backoff policy.
// Quick-notes reconciliation runs after every flush attempt regardless
// of outcome, since a partial flush can still have drained some notes.
func (s *Scheduler) flushWithBackoff(ctx context.Context) {
	err := s.flusher.FlushOutboxOnce(ctx)

	if s.notes != nil {
		if rErr := s.notes.ReconcileDrained(ctx, s.outbox); rErr != nil {
			s.log.Warn("quick-notes reconcile failed", "err", rErr)
		}
	}

	if err == nil {
		s.mu.Lock()
		s.bo.Reset()
		s.mu.Unlock()
		return
	}

	var httpErr *types.HttpError
	if !errors.As(err, &httpErr) || httpErr.Kind != types.HttpRetryable {
		return
	}

	s.mu.Lock()
	delay := s.bo.NextBackOff()
	s.mu.Unlock()
	if delay == backoff.Stop {
		return
	}

	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = time.AfterFunc(delay, s.requestFlush)
}
