package service

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"visiond/internal/broker"
	"visiond/internal/clock"
	"visiond/internal/engine"
	"visiond/internal/jobs"
	"visiond/internal/slot"
	"visiond/pkg/types"
)

type fakeRepo struct{}

type fakeHandle struct{ id string }

func (h fakeHandle) ResourceID() string { return h.id }

func (fakeRepo) Load(_ context.Context, id string) (slot.Handle, error) {
	return fakeHandle{id: id}, nil
}
func (fakeRepo) Unload(slot.Handle) error { return nil }

type fakeEngine struct {
	ref string
	err error

	mu      sync.Mutex
	prompts []string
}

func (e *fakeEngine) Generate(_ context.Context, _ slot.Handle, prompt string, _ engine.Params) (string, error) {
	e.mu.Lock()
	e.prompts = append(e.prompts, prompt)
	e.mu.Unlock()
	return e.ref, e.err
}

type fakeGateway struct {
	mu      sync.Mutex
	submits int
	status  broker.ProviderStatus
	data    []byte
}

func (g *fakeGateway) Submit(context.Context, broker.SubmitRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits++
	return "ext-1", nil
}

func (g *fakeGateway) Status(context.Context, string) (broker.ProviderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, nil
}

func (g *fakeGateway) Fetch(context.Context, string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.data, nil
}

func newTestService(t *testing.T, gw broker.Gateway, opts Options) *Service {
	t.Helper()
	log := zerolog.Nop()
	clk := clock.New()
	if opts.Slot == nil {
		opts.Slot = slot.New(fakeRepo{}, clk, log)
	}
	if gw != nil {
		reg := jobs.NewRegistry(log)
		opts.Broker = broker.New(gw, reg, clk, broker.Config{
			PushTimeout:  10 * time.Millisecond,
			PollInterval: 5 * time.Millisecond,
			TotalTimeout: 2 * time.Second,
		}, log)
		opts.ProviderEnabled = true
	}
	opts.Clock = clk
	opts.Log = log
	return New(opts)
}

func TestGenerateLocalRoute(t *testing.T) {
	eng := &fakeEngine{ref: "/tmp/out/abc.png"}
	svc := newTestService(t, nil, Options{
		Models: []types.Model{{ID: "sdxl-base", Path: "/m/sdxl-base.safetensors"}},
		Engine: eng,
	})

	resp, err := svc.Generate(context.Background(), types.GenerateRequest{
		CorrelationID: "job-1",
		Model:         "sdxl-base",
		Prompt:        "a lighthouse at dusk",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Source != SourceLocal {
		t.Fatalf("source = %q, want %q", resp.Source, SourceLocal)
	}
	if resp.CorrelationID != "job-1" || resp.Model != "sdxl-base" || resp.ArtifactRef != "/tmp/out/abc.png" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(eng.prompts) != 1 || eng.prompts[0] != "a lighthouse at dusk" {
		t.Fatalf("engine prompts = %v", eng.prompts)
	}
}

func TestGenerateLocalGeneratesCorrelationID(t *testing.T) {
	svc := newTestService(t, nil, Options{
		Models: []types.Model{{ID: "sdxl-base"}},
		Engine: &fakeEngine{ref: "/tmp/a.png"},
	})
	resp, err := svc.Generate(context.Background(), types.GenerateRequest{
		Model:  "sdxl-base",
		Prompt: "p",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.CorrelationID == "" {
		t.Fatalf("expected a generated correlation id")
	}
}

func TestGenerateUsesDefaultModel(t *testing.T) {
	svc := newTestService(t, nil, Options{
		Models:       []types.Model{{ID: "sdxl-base"}},
		DefaultModel: "sdxl-base",
		Engine:       &fakeEngine{ref: "/tmp/a.png"},
	})
	resp, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Model != "sdxl-base" {
		t.Fatalf("model = %q, want default", resp.Model)
	}
}

func TestGenerateNoModelNoDefault(t *testing.T) {
	svc := newTestService(t, nil, Options{Engine: &fakeEngine{}})
	_, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "p"})
	if err == nil {
		t.Fatalf("expected error")
	}
	he, ok := err.(interface{ StatusCode() int })
	if !ok || he.StatusCode() != http.StatusBadRequest {
		t.Fatalf("expected 400-coded error, got %v", err)
	}
}

func TestGenerateRemoteRoute(t *testing.T) {
	out := t.TempDir()
	gw := &fakeGateway{
		status: broker.ProviderStatus{Phase: broker.PhaseComplete, ArtifactURL: "https://cdn.example.com/x.png"},
		data:   []byte("fake-png"),
	}
	svc := newTestService(t, gw, Options{OutputDir: out})

	resp, err := svc.Generate(context.Background(), types.GenerateRequest{
		CorrelationID: "job-r1",
		Model:         "dream-diffusion-xl",
		Prompt:        "p",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Source != SourceProvider {
		t.Fatalf("source = %q, want %q", resp.Source, SourceProvider)
	}
	if resp.ArtifactRef != "https://cdn.example.com/x.png" {
		t.Fatalf("artifact = %q", resp.ArtifactRef)
	}
	b, err := os.ReadFile(filepath.Join(out, "job-r1.png"))
	if err != nil {
		t.Fatalf("artifact not persisted: %v", err)
	}
	if string(b) != "fake-png" {
		t.Fatalf("persisted bytes = %q", b)
	}
}

func TestGenerateUnknownModelProviderDisabled(t *testing.T) {
	svc := newTestService(t, nil, Options{
		Models: []types.Model{{ID: "sdxl-base"}},
		Engine: &fakeEngine{ref: "/tmp/a.png"},
	})
	_, err := svc.Generate(context.Background(), types.GenerateRequest{
		Model:  "dream-diffusion-xl",
		Prompt: "p",
	})
	if !slot.IsUnknownResource(err) {
		t.Fatalf("expected unknown resource error, got %v", err)
	}
}

func TestHandleCallbackResolvesPendingJob(t *testing.T) {
	gw := &fakeGateway{status: broker.ProviderStatus{Phase: broker.PhasePending}}
	svc := newTestService(t, gw, Options{})
	// Widen the push window so the callback, not the poll loop, wins.
	svc.brk = broker.New(gw, jobs.NewRegistry(zerolog.Nop()), clock.New(), broker.Config{
		PushTimeout:  5 * time.Second,
		PollInterval: time.Second,
		TotalTimeout: 10 * time.Second,
	}, zerolog.Nop())

	done := make(chan types.GenerateResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := svc.Generate(context.Background(), types.GenerateRequest{
			CorrelationID: "job-cb",
			Model:         "dream-diffusion-xl",
			Prompt:        "p",
		})
		if err != nil {
			errCh <- err
			return
		}
		done <- resp
	}()

	// Wait until the job is registered, then deliver a lowercase status.
	deadline := time.Now().Add(time.Second)
	for svc.brk.PendingJobs() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("job never registered")
		}
		time.Sleep(time.Millisecond)
	}
	svc.HandleCallback("job-cb", types.CallbackPayload{Status: "complete", URL: "https://cdn.example.com/y.png"})

	select {
	case resp := <-done:
		if resp.ArtifactRef != "https://cdn.example.com/y.png" {
			t.Fatalf("artifact = %q", resp.ArtifactRef)
		}
	case err := <-errCh:
		t.Fatalf("generate: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("callback did not resolve the job")
	}
}

func TestHandleCallbackNonTerminalIgnored(t *testing.T) {
	gw := &fakeGateway{status: broker.ProviderStatus{Phase: broker.PhasePending}}
	svc := newTestService(t, gw, Options{})
	// No pending job at all; must not panic or register anything.
	svc.HandleCallback("nope", types.CallbackPayload{Status: "PENDING"})
	svc.HandleCallback("nope", types.CallbackPayload{Status: "FAILED", Error: "x"})
}

func TestStatusReportsSlotAndPending(t *testing.T) {
	svc := newTestService(t, nil, Options{
		Models: []types.Model{{ID: "sdxl-base"}},
		Engine: &fakeEngine{ref: "/tmp/a.png"},
	})
	if _, err := svc.Generate(context.Background(), types.GenerateRequest{Model: "sdxl-base", Prompt: "p"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := svc.Status()
	if st.Slot.Phase != string(slot.PhaseReady) || st.Slot.Occupant != "sdxl-base" {
		t.Fatalf("unexpected slot status: %+v", st.Slot)
	}
	if st.PendingJobs != 0 {
		t.Fatalf("pending jobs = %d, want 0", st.PendingJobs)
	}
	if st.ServerTimeUnix == 0 {
		t.Fatalf("server time missing")
	}
}

func TestReady(t *testing.T) {
	if svc := newTestService(t, nil, Options{}); svc.Ready() {
		t.Fatalf("no models and no provider should not be ready")
	}
	if svc := newTestService(t, nil, Options{Models: []types.Model{{ID: "m"}}}); !svc.Ready() {
		t.Fatalf("local models should make the service ready")
	}
	if svc := newTestService(t, &fakeGateway{}, Options{}); !svc.Ready() {
		t.Fatalf("provider route should make the service ready")
	}
}
