// Package slot guards the single heavyweight local model slot. At most
// one model occupies it; load, unload, and swap transitions are strictly
// serialized, and the repository calls themselves run outside the state
// lock so unrelated readers are never blocked behind a slow load.
package slot

import (
	"context"
	"time"

	"sync"

	"github.com/rs/zerolog"

	"visiond/internal/clock"
)

// Phase is the lifecycle phase of the slot.
type Phase string

const (
	PhaseEmpty     Phase = "empty"
	PhaseLoading   Phase = "loading"
	PhaseReady     Phase = "ready"
	PhaseUnloading Phase = "unloading"
)

// Handle is an opaque reference to loaded model resources. Repositories
// return their own concrete handle types.
type Handle interface {
	ResourceID() string
}

// ModelRepository loads and unloads model weights on behalf of the slot.
type ModelRepository interface {
	Load(ctx context.Context, resourceID string) (Handle, error)
	Unload(h Handle) error
}

// Status is a read-only projection of the slot state.
type Status struct {
	Phase        Phase
	Occupant     string
	LoadsTotal   uint64
	UnloadsTotal uint64
}

// Slot owns the one exclusive model slot.
type Slot struct {
	repo ModelRepository
	clk  clock.Clock
	log  zerolog.Logger
	pub  EventPublisher

	// transCh serializes load/unload transitions; genCh is the single
	// in-flight use token, also held across a swap's unload so weights
	// are never released under an active generation.
	transCh chan struct{}
	genCh   chan struct{}

	mu       sync.Mutex
	phase    Phase
	occupant string
	handle   Handle
	lastUsed time.Time
	loads    uint64
	unloads  uint64
}

func New(repo ModelRepository, clk clock.Clock, log zerolog.Logger) *Slot {
	return &Slot{
		repo:    repo,
		clk:     clk,
		log:     log.With().Str("component", "slot").Logger(),
		pub:     noopPublisher{},
		transCh: make(chan struct{}, 1),
		genCh:   make(chan struct{}, 1),
		phase:   PhaseEmpty,
	}
}

// SetPublisher installs an event publisher; the default drops events.
func (s *Slot) SetPublisher(p EventPublisher) {
	if p != nil {
		s.pub = p
	}
}

// Ensure makes resourceID the slot occupant. Re-ensuring the current
// occupant is a free no-op; anything else waits behind the in-flight
// transition, unloads the previous occupant first, then loads the new
// one. Failure during load leaves the slot empty and safe to retry.
func (s *Slot) Ensure(ctx context.Context, resourceID string) error {
	if resourceID == "" {
		return ErrUnknownResource("(unspecified)")
	}

	// Fast path: already resident and ready.
	s.mu.Lock()
	if s.phase == PhaseReady && s.occupant == resourceID {
		s.lastUsed = s.clk.Now()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	select {
	case s.transCh <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.transCh }()

	// Re-check under the transition token: a waiter may find its model
	// already resident once the transition ahead of it finishes.
	s.mu.Lock()
	if s.phase == PhaseReady && s.occupant == resourceID {
		s.lastUsed = s.clk.Now()
		s.mu.Unlock()
		return nil
	}
	prev := s.handle
	prevID := s.occupant
	s.mu.Unlock()

	if prevID != "" {
		if err := s.unloadPrevious(ctx, prev, prevID); err != nil {
			return err
		}
	}
	return s.load(ctx, resourceID)
}

func (s *Slot) unloadPrevious(ctx context.Context, prev Handle, prevID string) error {
	// Wait out any in-flight use of the old occupant before releasing it.
	select {
	case s.genCh <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.genCh }()

	s.setPhase(PhaseUnloading)
	s.pub.Publish(Event{Name: "unload_start", ResourceID: prevID})
	err := s.repo.Unload(prev)

	s.mu.Lock()
	s.occupant = ""
	s.handle = nil
	s.phase = PhaseEmpty
	s.unloads++
	s.mu.Unlock()
	slotUnloadsTotal.Inc()

	if err != nil {
		// The occupant is gone either way; a failed unload only gets logged.
		s.log.Warn().Str("resource", prevID).Err(err).Msg("unload reported an error")
	}
	s.pub.Publish(Event{Name: "unload_done", ResourceID: prevID})
	return nil
}

func (s *Slot) load(ctx context.Context, resourceID string) error {
	s.setPhase(PhaseLoading)
	s.pub.Publish(Event{Name: "load_start", ResourceID: resourceID})
	start := s.clk.Now()

	h, err := s.repo.Load(ctx, resourceID)

	s.mu.Lock()
	if err != nil {
		// Never half-loaded: failure resets to empty and Ensure may be retried.
		s.phase = PhaseEmpty
		s.occupant = ""
		s.handle = nil
		s.mu.Unlock()
		slotLoadFailuresTotal.Inc()
		s.log.Error().Str("resource", resourceID).Err(err).Msg("load failed")
		s.pub.Publish(Event{Name: "load_fail", ResourceID: resourceID, Fields: map[string]any{"error": err.Error()}})
		return ErrResourceLoadFailed(resourceID, err)
	}
	s.occupant = resourceID
	s.handle = h
	s.phase = PhaseReady
	s.lastUsed = s.clk.Now()
	s.loads++
	s.mu.Unlock()
	slotLoadsTotal.Inc()

	s.log.Info().
		Str("resource", resourceID).
		Dur("dur", s.clk.Since(start)).
		Msg("model ready")
	s.pub.Publish(Event{Name: "load_ready", ResourceID: resourceID})
	return nil
}

// Acquire ensures resourceID is resident and reserves the single
// in-flight use token so the occupant cannot be swapped out underneath
// the caller. The returned release func must be deferred.
func (s *Slot) Acquire(ctx context.Context, resourceID string) (Handle, func(), error) {
	for {
		if err := s.Ensure(ctx, resourceID); err != nil {
			return nil, nil, err
		}
		select {
		case s.genCh <- struct{}{}:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		s.mu.Lock()
		if s.phase == PhaseReady && s.occupant == resourceID {
			h := s.handle
			s.lastUsed = s.clk.Now()
			s.mu.Unlock()
			return h, func() { <-s.genCh }, nil
		}
		// Swapped between Ensure and token acquisition; go around again.
		s.mu.Unlock()
		<-s.genCh
	}
}

// Release forces the slot empty. Used on unrecoverable errors; idempotent
// when the slot is already empty.
func (s *Slot) Release() {
	s.transCh <- struct{}{}
	defer func() { <-s.transCh }()

	s.mu.Lock()
	if s.occupant == "" && s.phase == PhaseEmpty {
		s.mu.Unlock()
		return
	}
	prev := s.handle
	prevID := s.occupant
	s.phase = PhaseUnloading
	s.mu.Unlock()

	if prev != nil {
		if err := s.repo.Unload(prev); err != nil {
			s.log.Warn().Str("resource", prevID).Err(err).Msg("release unload reported an error")
		}
	}

	s.mu.Lock()
	s.occupant = ""
	s.handle = nil
	s.phase = PhaseEmpty
	s.unloads++
	s.mu.Unlock()
	slotUnloadsTotal.Inc()
	s.pub.Publish(Event{Name: "release", ResourceID: prevID})
}

// Status returns a snapshot of the slot.
func (s *Slot) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Phase:        s.phase,
		Occupant:     s.occupant,
		LoadsTotal:   s.loads,
		UnloadsTotal: s.unloads,
	}
}

// Ready reports whether the slot holds a ready occupant.
func (s *Slot) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseReady
}

func (s *Slot) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}
