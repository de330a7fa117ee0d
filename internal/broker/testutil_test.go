package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"visiond/internal/clock"
	"visiond/internal/jobs"
)

// statusReply scripts one answer from the fake gateway's Status.
type statusReply struct {
	st  ProviderStatus
	err error
}

// fakeGateway is an in-memory Gateway with scripted replies.
type fakeGateway struct {
	mu sync.Mutex

	submitID   string
	submitErr  error
	submits    []SubmitRequest
	statuses   []statusReply // consumed in order; last entry repeats
	statusN    int
	fetchData  []byte
	fetchErr   error
	fetchN     int
	fetchedURL string
}

func (g *fakeGateway) Submit(_ context.Context, req SubmitRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits = append(g.submits, req)
	if g.submitErr != nil {
		return "", g.submitErr
	}
	if g.submitID == "" {
		return "ext-1", nil
	}
	return g.submitID, nil
}

func (g *fakeGateway) Status(context.Context, string) (ProviderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.statuses) == 0 {
		return ProviderStatus{Phase: PhasePending}, nil
	}
	i := g.statusN
	if i >= len(g.statuses) {
		i = len(g.statuses) - 1
	}
	g.statusN++
	return g.statuses[i].st, g.statuses[i].err
}

func (g *fakeGateway) Fetch(_ context.Context, url string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchN++
	g.fetchedURL = url
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	if g.fetchData == nil {
		return []byte("png"), nil
	}
	return g.fetchData, nil
}

func (g *fakeGateway) statusCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusN
}

func (g *fakeGateway) fetchCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetchN
}

func (g *fakeGateway) submitCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submits)
}

// newTestBroker wires a broker with millisecond timers and a real clock.
func newTestBroker(gw Gateway, cfg Config) (*Broker, *jobs.Registry) {
	reg := jobs.NewRegistry(zerolog.Nop())
	b := New(gw, reg, clock.New(), cfg, zerolog.Nop())
	return b, reg
}

// fastConfig keeps push short so tests exercise the poll fallback quickly.
func fastConfig() Config {
	return Config{
		PushTimeout:  20 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		TotalTimeout: 2 * time.Second,
		WebhookBase:  "http://localhost:8080",
	}
}

// pushConfig keeps the push window long enough that polling never starts.
func pushConfig() Config {
	return Config{
		PushTimeout:  5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		TotalTimeout: 10 * time.Second,
		WebhookBase:  "http://localhost:8080",
	}
}

// waitRegistryEmpty polls until the registry drains or the deadline hits.
func waitRegistryEmpty(reg *jobs.Registry, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if reg.Len() == 0 {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return reg.Len() == 0
}
