package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"visiond/internal/slot"
)

const defaultRenderTimeout = 10 * time.Minute

// SubprocessConfig configures the stable-diffusion.cpp subprocess engine.
type SubprocessConfig struct {
	// Bin is the path to the sd binary.
	Bin string
	// OutDir receives generated artifacts; created on demand.
	OutDir string
	// Timeout bounds a single render; defaults to 10m.
	Timeout time.Duration
}

// SubprocessEngine renders by spawning a stable-diffusion.cpp `sd`
// process per request against the weights the slot has resident.
type SubprocessEngine struct {
	cfg SubprocessConfig
	log zerolog.Logger
}

func NewSubprocess(cfg SubprocessConfig, log zerolog.Logger) *SubprocessEngine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRenderTimeout
	}
	return &SubprocessEngine{cfg: cfg, log: log.With().Str("component", "engine").Logger()}
}

// pathHandle is satisfied by repository handles that expose the weight
// file location.
type pathHandle interface {
	slot.Handle
	Path() string
}

func (e *SubprocessEngine) Generate(ctx context.Context, h slot.Handle, prompt string, p Params) (string, error) {
	ph, ok := h.(pathHandle)
	if !ok {
		return "", fmt.Errorf("handle for %q does not expose a weights path", h.ResourceID())
	}
	if err := os.MkdirAll(e.cfg.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	outPath := filepath.Join(e.cfg.OutDir, uuid.NewString()+".png")

	args := []string{
		"--model", ph.Path(),
		"--prompt", prompt,
		"--output", outPath,
	}
	if p.Width > 0 {
		args = append(args, "--width", strconv.Itoa(p.Width))
	}
	if p.Height > 0 {
		args = append(args, "--height", strconv.Itoa(p.Height))
	}
	if p.Steps > 0 {
		args = append(args, "--steps", strconv.Itoa(p.Steps))
	}
	if p.Guidance > 0 {
		args = append(args, "--cfg-scale", strconv.FormatFloat(p.Guidance, 'f', -1, 64))
	}
	if p.Seed != 0 {
		args = append(args, "--seed", strconv.FormatInt(p.Seed, 10))
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	start := time.Now()
	cmd := exec.CommandContext(rctx, e.cfg.Bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		e.log.Error().
			Str("model", ph.ResourceID()).
			Err(err).
			Bytes("output", tail(out, 512)).
			Msg("render failed")
		return "", fmt.Errorf("render: %w", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("render produced no artifact: %w", err)
	}
	e.log.Info().
		Str("model", ph.ResourceID()).
		Str("artifact", outPath).
		Dur("dur", time.Since(start)).
		Msg("render complete")
	return outPath, nil
}

// tail returns the last n bytes of b for log context.
func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
