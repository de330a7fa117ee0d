// Package broker resolves submitted provider jobs to exactly one terminal
// outcome per caller. Two independent completion paths race per job: an
// inbound webhook callback and a poll-fallback loop that starts once the
// push window elapses. Every terminal observation funnels through the job
// registry's claim; only the winner fetches, resolves, and removes.
package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"visiond/internal/clock"
	"visiond/internal/jobs"
)

// Defaults applied when corresponding Config fields are unset. The push
// window and poll cadence match the provider's documented guidance.
const (
	DefaultPushTimeout  = 180 * time.Second
	DefaultPollInterval = 3 * time.Second
	DefaultTotalTimeout = 6 * time.Minute
	defaultFetchTimeout = 30 * time.Second
)

// Config encapsulates all broker tunables.
type Config struct {
	// PushTimeout is the first-stage window spent waiting for a webhook
	// before the poll fallback starts.
	PushTimeout time.Duration
	// PollInterval is the fixed cadence of the poll fallback.
	PollInterval time.Duration
	// TotalTimeout is the overall deadline after which the job is
	// abandoned with a timeout error.
	TotalTimeout time.Duration
	// WebhookBase is the externally reachable base URL the provider posts
	// callbacks to, e.g. "http://localhost:8080". Empty disables callbacks
	// in the submission payload; the poll fallback still resolves jobs.
	WebhookBase string
}

func (c Config) withDefaults() Config {
	if c.PushTimeout <= 0 {
		c.PushTimeout = DefaultPushTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = DefaultTotalTimeout
	}
	return c
}

// Result is returned to the caller for a completed generation.
type Result struct {
	CorrelationID string
	ArtifactRef   string
	Data          []byte
}

// GenerateSpec is a remote generation request.
type GenerateSpec struct {
	// CorrelationID is caller-supplied; generated when empty.
	CorrelationID string
	Model         string
	Prompt        string
	Width         int
	Height        int
}

// Broker owns the job registry and arbitrates completion.
type Broker struct {
	gw  Gateway
	reg *jobs.Registry
	clk clock.Clock
	cfg Config
	log zerolog.Logger
}

func New(gw Gateway, reg *jobs.Registry, clk clock.Clock, cfg Config, log zerolog.Logger) *Broker {
	return &Broker{
		gw:  gw,
		reg: reg,
		clk: clk,
		cfg: cfg.withDefaults(),
		log: log.With().Str("component", "broker").Logger(),
	}
}

// PendingJobs reports how many jobs are currently awaiting completion.
func (b *Broker) PendingJobs() int { return b.reg.Len() }

// Generate submits the job, starts the completion watchers, and blocks
// until exactly one path delivers a terminal outcome.
func (b *Broker) Generate(ctx context.Context, spec GenerateSpec) (Result, error) {
	correlationID := spec.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	deadline := clock.Deadline(b.clk, b.cfg.TotalTimeout)
	w, err := b.reg.Register(correlationID, deadline)
	if err != nil {
		return Result{}, err
	}

	externalID, err := b.gw.Submit(ctx, SubmitRequest{
		Prompt:      spec.Prompt,
		Model:       spec.Model,
		Width:       spec.Width,
		Height:      spec.Height,
		CallbackURL: b.callbackURL(correlationID),
	})
	if err != nil {
		b.reg.Remove(correlationID)
		if IsProviderRejected(err) {
			return Result{}, err
		}
		return Result{}, ErrProviderRejected(err.Error())
	}
	b.reg.SetExternalID(correlationID, externalID)
	b.log.Info().
		Str("correlation_id", correlationID).
		Str("external_id", externalID).
		Msg("job submitted")

	go b.watch(correlationID, externalID, w, deadline)

	out, err := w.Wait(ctx)
	if err != nil {
		// Caller gave up; the watcher still terminates the job and
		// empties the registry on its own schedule.
		return Result{}, err
	}
	if out.Err != nil {
		return Result{}, out.Err
	}
	return Result{CorrelationID: correlationID, ArtifactRef: out.ArtifactRef, Data: out.Data}, nil
}

// HandleCallback is the push completion path, invoked by the webhook
// handler with an already-normalized provider status. Non-terminal,
// unknown, or already-claimed observations are discarded without side
// effects, which is what makes late or duplicate deliveries safe.
func (b *Broker) HandleCallback(correlationID string, st ProviderStatus) {
	if !st.Phase.Terminal() {
		b.log.Debug().
			Str("correlation_id", correlationID).
			Str("phase", string(st.Phase)).
			Msg("ignoring non-terminal callback")
		return
	}
	b.settle(correlationID, pathPush, st)
}

// watch runs the poll fallback and the overall deadline for one job.
// Stage 1 waits out the push window; stage 2 polls at a fixed cadence;
// stage 3 claims a timeout if the deadline expires unresolved.
func (b *Broker) watch(correlationID, externalID string, w *jobs.Waiter, deadline time.Time) {
	pushTimer := b.clk.NewTimer(b.cfg.PushTimeout)
	defer pushTimer.Stop()
	select {
	case <-w.Resolved():
		return
	case <-pushTimer.Chan():
	}
	b.log.Info().
		Str("correlation_id", correlationID).
		Msg("push window elapsed, falling back to polling")

	for !clock.Expired(b.clk, deadline) {
		st, err := b.pollOnce(externalID)
		switch {
		case err != nil:
			// Transient; retry at the same cadence up to the deadline.
			b.log.Warn().
				Str("correlation_id", correlationID).
				Err(err).
				Msg("poll failed")
		case st.Phase.Terminal():
			b.settle(correlationID, pathPoll, st)
			return
		}
		pollTimer := b.clk.NewTimer(b.cfg.PollInterval)
		select {
		case <-w.Resolved():
			pollTimer.Stop()
			return
		case <-pollTimer.Chan():
		}
	}

	if b.reg.Claim(correlationID) {
		completionsTotal.WithLabelValues(pathDeadline, outcomeTimeout).Inc()
		b.log.Warn().Str("correlation_id", correlationID).Msg("job timed out")
		b.reg.Resolve(correlationID, jobs.StateTimedOut, jobs.Outcome{Err: ErrTimeout(correlationID)})
	}
}

func (b *Broker) pollOnce(externalID string) (ProviderStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.PollInterval*3+time.Second)
	defer cancel()
	return b.gw.Status(ctx, externalID)
}

// settle is the single arbitration point: claim, then (winner only)
// perform follow-up I/O and resolve. Losers discard silently.
func (b *Broker) settle(correlationID, path string, st ProviderStatus) {
	if !b.reg.Claim(correlationID) {
		b.log.Debug().
			Str("correlation_id", correlationID).
			Str("path", path).
			Msg("claim lost, discarding observation")
		return
	}

	switch st.Phase {
	case PhaseComplete:
		ctx, cancel := context.WithTimeout(context.Background(), defaultFetchTimeout)
		data, err := b.gw.Fetch(ctx, st.ArtifactURL)
		cancel()
		if err != nil {
			// The claim is spent: the job must still terminate exactly once.
			completionsTotal.WithLabelValues(path, outcomeFailed).Inc()
			b.reg.Resolve(correlationID, jobs.StateFailed,
				jobs.Outcome{Err: ErrGenerationFailed("artifact fetch: " + err.Error())})
			return
		}
		completionsTotal.WithLabelValues(path, outcomeComplete).Inc()
		b.log.Info().
			Str("correlation_id", correlationID).
			Str("path", path).
			Int("bytes", len(data)).
			Msg("generation complete")
		b.reg.Resolve(correlationID, jobs.StateComplete,
			jobs.Outcome{ArtifactRef: st.ArtifactURL, Data: data})
	case PhaseFailed:
		completionsTotal.WithLabelValues(path, outcomeFailed).Inc()
		b.log.Info().
			Str("correlation_id", correlationID).
			Str("path", path).
			Str("message", st.Message).
			Msg("generation failed")
		b.reg.Resolve(correlationID, jobs.StateFailed,
			jobs.Outcome{Err: ErrGenerationFailed(st.Message)})
	}
}

func (b *Broker) callbackURL(correlationID string) string {
	if b.cfg.WebhookBase == "" {
		return ""
	}
	return b.cfg.WebhookBase + "/webhook/provider/" + correlationID
}
