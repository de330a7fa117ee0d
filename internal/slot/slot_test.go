package slot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"visiond/internal/clock"
)

type fakeHandle struct{ id string }

func (h fakeHandle) ResourceID() string { return h.id }

// fakeRepo records the order of load/unload calls.
type fakeRepo struct {
	mu        sync.Mutex
	calls     []string // "load:<id>" / "unload:<id>"
	loadErr   map[string]error
	loadDelay time.Duration
}

func (r *fakeRepo) Load(ctx context.Context, id string) (Handle, error) {
	if r.loadDelay > 0 {
		select {
		case <-time.After(r.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadErr[id]; err != nil {
		return nil, err
	}
	r.calls = append(r.calls, "load:"+id)
	return fakeHandle{id: id}, nil
}

func (r *fakeRepo) Unload(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "unload:"+h.ResourceID())
	return nil
}

func (r *fakeRepo) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *fakeRepo) count(prefix string) int {
	n := 0
	for _, c := range r.callLog() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func newTestSlot(repo ModelRepository) *Slot {
	return New(repo, clock.New(), zerolog.Nop())
}

func TestEnsureIdempotentReload(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestSlot(repo)
	ctx := context.Background()

	if err := s.Ensure(ctx, "sdxl-base"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := s.Ensure(ctx, "sdxl-base"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if got := repo.count("load:"); got != 1 {
		t.Fatalf("expected at most one load, got %d", got)
	}
	if got := repo.count("unload:"); got != 0 {
		t.Fatalf("expected zero unloads, got %d", got)
	}
}

func TestEnsureSwapUnloadsBeforeLoad(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestSlot(repo)
	ctx := context.Background()

	if err := s.Ensure(ctx, "sdxl-base"); err != nil {
		t.Fatalf("ensure X: %v", err)
	}
	if err := s.Ensure(ctx, "sdxl-turbo"); err != nil {
		t.Fatalf("ensure Y: %v", err)
	}
	want := []string{"load:sdxl-base", "unload:sdxl-base", "load:sdxl-turbo"}
	got := repo.callLog()
	if len(got) != len(want) {
		t.Fatalf("call log %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call log %v, want %v", got, want)
		}
	}
	if st := s.Status(); st.Occupant != "sdxl-turbo" || st.Phase != PhaseReady {
		t.Fatalf("unexpected status after swap: %+v", st)
	}
}

func TestEnsureScenarioCounts(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestSlot(repo)
	ctx := context.Background()

	for _, id := range []string{"sdxl-base", "sdxl-base", "sdxl-turbo"} {
		if err := s.Ensure(ctx, id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
	}
	if got := repo.count("unload:"); got != 1 {
		t.Fatalf("unload count = %d, want 1", got)
	}
	if got := repo.count("load:"); got != 2 {
		t.Fatalf("load count = %d, want 2", got)
	}
	if st := s.Status(); st.Occupant != "sdxl-turbo" {
		t.Fatalf("final occupant = %q, want sdxl-turbo", st.Occupant)
	}
}

func TestLoadFailureLeavesSlotEmptyAndRetryable(t *testing.T) {
	repo := &fakeRepo{loadErr: map[string]error{"broken": errors.New("corrupt weights")}}
	s := newTestSlot(repo)
	ctx := context.Background()

	err := s.Ensure(ctx, "broken")
	if err == nil {
		t.Fatalf("expected load failure")
	}
	if !IsResourceLoadFailed(err) {
		t.Fatalf("expected IsResourceLoadFailed, got %v", err)
	}
	if st := s.Status(); st.Phase != PhaseEmpty || st.Occupant != "" {
		t.Fatalf("slot not empty after failed load: %+v", st)
	}
	// The slot stays usable for other models.
	if err := s.Ensure(ctx, "sdxl-base"); err != nil {
		t.Fatalf("ensure after failure: %v", err)
	}
	if !s.Ready() {
		t.Fatalf("slot not ready after recovery")
	}
}

func TestSwapAwayFromFailedLoadDoesNotUnload(t *testing.T) {
	repo := &fakeRepo{loadErr: map[string]error{"broken": errors.New("corrupt weights")}}
	s := newTestSlot(repo)
	ctx := context.Background()

	_ = s.Ensure(ctx, "broken")
	if err := s.Ensure(ctx, "sdxl-base"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got := repo.count("unload:"); got != 0 {
		t.Fatalf("nothing was loaded, yet unload ran %d times", got)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestSlot(repo)
	ctx := context.Background()

	s.Release() // empty slot: no-op
	if got := repo.count("unload:"); got != 0 {
		t.Fatalf("release on empty slot unloaded %d times", got)
	}

	if err := s.Ensure(ctx, "sdxl-base"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	s.Release()
	s.Release()
	if got := repo.count("unload:"); got != 1 {
		t.Fatalf("unload count = %d, want 1", got)
	}
	if st := s.Status(); st.Phase != PhaseEmpty || st.Occupant != "" {
		t.Fatalf("slot not empty after release: %+v", st)
	}
}

func TestConcurrentEnsureSerializesTransitions(t *testing.T) {
	repo := &fakeRepo{loadDelay: 10 * time.Millisecond}
	s := newTestSlot(repo)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := "sdxl-base"
		if i%2 == 1 {
			id = "sdxl-turbo"
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Ensure(ctx, id); err != nil {
				t.Errorf("ensure %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	// Transitions must be strictly serialized: every unload is for the
	// model the preceding load put in.
	var resident string
	for _, c := range repo.callLog() {
		switch {
		case len(c) > 5 && c[:5] == "load:":
			if resident != "" {
				t.Fatalf("load while %q resident: %v", resident, repo.callLog())
			}
			resident = c[5:]
		case len(c) > 7 && c[:7] == "unload:":
			if got := c[7:]; got != resident {
				t.Fatalf("unloaded %q while %q resident: %v", got, resident, repo.callLog())
			}
			resident = ""
		}
	}
	if st := s.Status(); st.Phase != PhaseReady {
		t.Fatalf("slot not ready after concurrent ensures: %+v", st)
	}
}

func TestAcquireBlocksSwapUntilReleased(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestSlot(repo)
	ctx := context.Background()

	h, release, err := s.Acquire(ctx, "sdxl-base")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if h.ResourceID() != "sdxl-base" {
		t.Fatalf("wrong handle: %q", h.ResourceID())
	}

	swapped := make(chan error, 1)
	go func() { swapped <- s.Ensure(ctx, "sdxl-turbo") }()

	// The swap must wait for the in-flight use to finish.
	select {
	case err := <-swapped:
		t.Fatalf("swap completed under an active acquisition: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	release()
	select {
	case err := <-swapped:
		if err != nil {
			t.Fatalf("swap after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("swap never completed after release")
	}
	if st := s.Status(); st.Occupant != "sdxl-turbo" {
		t.Fatalf("occupant = %q, want sdxl-turbo", st.Occupant)
	}
}

func TestEnsureEmptyIDRejected(t *testing.T) {
	s := newTestSlot(&fakeRepo{})
	err := s.Ensure(context.Background(), "")
	if !IsUnknownResource(err) {
		t.Fatalf("expected IsUnknownResource, got %v", err)
	}
}

func TestEnsureHonorsContextWhileWaiting(t *testing.T) {
	repo := &fakeRepo{loadDelay: 200 * time.Millisecond}
	s := newTestSlot(repo)

	started := make(chan struct{})
	go func() {
		close(started)
		_ = s.Ensure(context.Background(), "sdxl-base")
	}()
	<-started
	time.Sleep(10 * time.Millisecond) // let the load begin

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Ensure(ctx, "sdxl-turbo")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded waiting on transition, got %v", err)
	}
}

func TestEventsPublished(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestSlot(repo)
	pub := NewMemoryPublisher()
	s.SetPublisher(pub)
	ctx := context.Background()

	if err := s.Ensure(ctx, "sdxl-base"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.Ensure(ctx, "sdxl-turbo"); err != nil {
		t.Fatalf("ensure swap: %v", err)
	}
	var names []string
	for _, e := range pub.Events() {
		names = append(names, e.Name)
	}
	want := []string{"load_start", "load_ready", "unload_start", "unload_done", "load_start", "load_ready"}
	if len(names) != len(want) {
		t.Fatalf("events %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("events %v, want %v", names, want)
		}
	}
}
