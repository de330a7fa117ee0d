// Package engine is the local generation boundary. The slot hands a
// loaded model handle to an Engine, which renders the prompt into an
// artifact on disk. Diffusion runtimes plug in behind this interface.
package engine

import (
	"context"

	"visiond/internal/slot"
)

// Params carries the sampler settings for one local generation.
type Params struct {
	Width    int
	Height   int
	Steps    int
	Guidance float64
	Seed     int64
}

// Engine renders a prompt against the slot's resident model and returns
// the local artifact path.
type Engine interface {
	Generate(ctx context.Context, h slot.Handle, prompt string, p Params) (string, error)
}

// runtimeUnavailableError signals that no local diffusion runtime is
// configured, so locally-routed requests cannot be served (return 503).
type runtimeUnavailableError struct{ msg string }

func (e runtimeUnavailableError) Error() string { return e.msg }

// ErrRuntimeUnavailable constructs a runtimeUnavailableError.
func ErrRuntimeUnavailable(msg string) error { return runtimeUnavailableError{msg: msg} }

// IsRuntimeUnavailable reports whether err indicates a missing local runtime.
func IsRuntimeUnavailable(err error) bool {
	_, ok := err.(runtimeUnavailableError)
	return ok
}

// unavailableEngine rejects all work; installed when no runtime binary is
// configured so the remote provider path keeps working alone.
type unavailableEngine struct{}

func (unavailableEngine) Generate(context.Context, slot.Handle, string, Params) (string, error) {
	return "", ErrRuntimeUnavailable("no local diffusion runtime configured (set sd_bin)")
}

// NewUnavailable returns an engine that fails every request with
// ErrRuntimeUnavailable.
func NewUnavailable() Engine { return unavailableEngine{} }
