// Package jobs owns the correlation-id to pending-job map used to
// arbitrate completion of provider generations. Exactly one completion
// path per job wins the claim; everyone else backs off.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a job. Terminal states are final.
type State string

const (
	StateSubmitted State = "submitted"
	StateAwaiting  State = "awaiting_completion"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Outcome is the terminal result delivered to the waiting caller.
type Outcome struct {
	// ArtifactRef is the provider URL or local path of the artifact.
	ArtifactRef string
	// Data holds fetched artifact bytes when the winner downloaded them.
	Data []byte
	// Err is the typed error for failed/timed-out jobs.
	Err error
}

// Waiter is the handle a caller blocks on until its job terminates.
type Waiter struct {
	done     chan Outcome  // buffered 1; written once by the claim winner
	resolved chan struct{} // closed when the outcome has been recorded
}

// Wait blocks until the job reaches a terminal outcome or ctx is done.
func (w *Waiter) Wait(ctx context.Context) (Outcome, error) {
	select {
	case out := <-w.done:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Resolved is closed once the job has been resolved. Watchers select on it
// to stop work early when another path already won.
func (w *Waiter) Resolved() <-chan struct{} { return w.resolved }

// Job tracks one in-flight provider generation.
type Job struct {
	CorrelationID string
	ExternalID    string
	State         State
	Deadline      time.Time

	claimed bool
	waiter  *Waiter
}

// Registry is the process-wide pending-job map. All mutation happens under
// one mutex; critical sections never span provider I/O.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
	log  zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
		log:  log.With().Str("component", "jobs").Logger(),
	}
}

// Register inserts a pending job and returns the caller's waiter.
// Registration happens before provider submission so a duplicate id fails
// fast without submitting anything; fails with ErrDuplicateCorrelationID
// when the id is already in flight.
func (r *Registry) Register(correlationID string, deadline time.Time) (*Waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[correlationID]; ok {
		return nil, ErrDuplicateCorrelationID(correlationID)
	}
	w := &Waiter{
		done:     make(chan Outcome, 1),
		resolved: make(chan struct{}),
	}
	r.jobs[correlationID] = &Job{
		CorrelationID: correlationID,
		State:         StateSubmitted,
		Deadline:      deadline,
		waiter:        w,
	}
	return w, nil
}

// SetExternalID records the provider's id once submission succeeded and
// moves the job to awaiting-completion.
func (r *Registry) SetExternalID(correlationID, externalID string) {
	r.mu.Lock()
	if j, ok := r.jobs[correlationID]; ok {
		j.ExternalID = externalID
		j.State = StateAwaiting
	}
	r.mu.Unlock()
}

// Claim atomically flips the job's claimed flag and reports whether this
// call performed the flip. A false return means another path already owns
// resolution (or the job is gone) and the caller must do nothing further.
func (r *Registry) Claim(correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[correlationID]
	if !ok || j.claimed {
		return false
	}
	j.claimed = true
	return true
}

// Resolve records the terminal outcome, wakes the waiting caller, and then
// removes the entry. Only the claim winner may call it, and only once.
func (r *Registry) Resolve(correlationID string, state State, out Outcome) {
	r.mu.Lock()
	j, ok := r.jobs[correlationID]
	if !ok || !j.claimed {
		r.mu.Unlock()
		r.log.Error().Str("correlation_id", correlationID).Msg("resolve without a won claim")
		return
	}
	j.State = state
	close(j.waiter.resolved)
	j.waiter.done <- out
	delete(r.jobs, correlationID)
	r.mu.Unlock()
}

// Remove deletes an entry without resolving it. Claim/Resolve already
// removes; this exists for cleanup when registration succeeded but the
// watcher could not be started.
func (r *Registry) Remove(correlationID string) {
	r.mu.Lock()
	delete(r.jobs, correlationID)
	r.mu.Unlock()
}

// Len reports the number of pending jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
