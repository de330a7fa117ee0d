package broker

import "context"

// ProviderPhase classifies a provider status report.
type ProviderPhase string

const (
	// PhasePending covers the provider's PENDING and RUNNING states.
	PhasePending ProviderPhase = "pending"
	PhaseComplete ProviderPhase = "complete"
	PhaseFailed   ProviderPhase = "failed"
)

// Terminal reports whether the phase allows no further transition.
func (p ProviderPhase) Terminal() bool { return p == PhaseComplete || p == PhaseFailed }

// ProviderStatus is the single typed shape every provider observation is
// normalized into, whether it arrived by webhook or by polling.
type ProviderStatus struct {
	Phase ProviderPhase
	// ArtifactURL is set when Phase is complete.
	ArtifactURL string
	// Message is the provider's failure message when Phase is failed.
	Message string
}

// SubmitRequest carries a generation submission to the provider.
type SubmitRequest struct {
	Prompt      string
	Model       string
	Width       int
	Height      int
	CallbackURL string
}

// Gateway is the provider boundary consumed by the broker.
//
// Submit errors are terminal for the request (ErrProviderRejected).
// Status errors are transient (ErrProviderTransient) and retried by the
// poll loop. Fetch downloads artifact bytes for a completed generation.
type Gateway interface {
	Submit(ctx context.Context, req SubmitRequest) (externalID string, err error)
	Status(ctx context.Context, externalID string) (ProviderStatus, error)
	Fetch(ctx context.Context, artifactURL string) ([]byte, error)
}
