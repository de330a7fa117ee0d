// Package service composes the local slot/engine pair and the remote
// completion broker behind one API the HTTP layer can serve. Requests
// naming a model from the local registry render in-process; everything
// else is handed to the provider broker.
package service

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"visiond/internal/broker"
	"visiond/internal/clock"
	"visiond/internal/engine"
	"visiond/internal/slot"
	"visiond/pkg/types"
)

const (
	SourceLocal    = "local"
	SourceProvider = "provider"
)

// invalidRequestError maps to 400 via the HTTP layer's HTTPError check.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string   { return e.msg }
func (e invalidRequestError) StatusCode() int { return http.StatusBadRequest }

// Service routes generation requests and exposes status for the API.
type Service struct {
	models       map[string]types.Model
	defaultModel string
	outputDir    string

	slot *slot.Slot
	eng  engine.Engine
	brk  *broker.Broker
	clk  clock.Clock
	log  zerolog.Logger

	providerEnabled bool
	started         time.Time
}

// Options collects the collaborators and knobs for New.
type Options struct {
	Models          []types.Model
	DefaultModel    string
	OutputDir       string
	Slot            *slot.Slot
	Engine          engine.Engine
	Broker          *broker.Broker
	ProviderEnabled bool
	Clock           clock.Clock
	Log             zerolog.Logger
}

func New(opts Options) *Service {
	byID := make(map[string]types.Model, len(opts.Models))
	for _, m := range opts.Models {
		byID[m.ID] = m
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	eng := opts.Engine
	if eng == nil {
		eng = engine.NewUnavailable()
	}
	return &Service{
		models:          byID,
		defaultModel:    opts.DefaultModel,
		outputDir:       opts.OutputDir,
		slot:            opts.Slot,
		eng:             eng,
		brk:             opts.Broker,
		clk:             clk,
		log:             opts.Log.With().Str("component", "service").Logger(),
		providerEnabled: opts.ProviderEnabled,
		started:         clk.Now(),
	}
}

// ListModels returns the locally registered models sorted by id.
func (s *Service) ListModels() []types.Model {
	out := make([]types.Model, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Generate resolves one request end to end, locally or via the provider.
func (s *Service) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.defaultModel
	}
	if model == "" {
		return types.GenerateResponse{}, invalidRequestError{msg: "model is required (no server default configured)"}
	}

	start := s.clk.Now()
	if _, ok := s.models[model]; ok {
		return s.generateLocal(ctx, model, req, start)
	}
	return s.generateRemote(ctx, model, req, start)
}

func (s *Service) generateLocal(ctx context.Context, model string, req types.GenerateRequest, start time.Time) (types.GenerateResponse, error) {
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	h, release, err := s.slot.Acquire(ctx, model)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	defer release()

	ref, err := s.eng.Generate(ctx, h, req.Prompt, engine.Params{
		Width:    req.Width,
		Height:   req.Height,
		Steps:    req.Steps,
		Guidance: req.Guidance,
	})
	if err != nil {
		return types.GenerateResponse{}, err
	}
	s.log.Info().
		Str("correlation_id", correlationID).
		Str("model", model).
		Str("artifact", ref).
		Msg("local generation complete")
	return types.GenerateResponse{
		CorrelationID: correlationID,
		Model:         model,
		ArtifactRef:   ref,
		Source:        SourceLocal,
		DurationMs:    s.clk.Since(start).Milliseconds(),
	}, nil
}

func (s *Service) generateRemote(ctx context.Context, model string, req types.GenerateRequest, start time.Time) (types.GenerateResponse, error) {
	if !s.providerEnabled {
		return types.GenerateResponse{}, slot.ErrUnknownResource(model)
	}
	res, err := s.brk.Generate(ctx, broker.GenerateSpec{
		CorrelationID: req.CorrelationID,
		Model:         model,
		Prompt:        req.Prompt,
		Width:         req.Width,
		Height:        req.Height,
	})
	if err != nil {
		return types.GenerateResponse{}, err
	}
	if len(res.Data) > 0 && s.outputDir != "" {
		s.saveArtifact(res.CorrelationID, res.Data)
	}
	return types.GenerateResponse{
		CorrelationID: res.CorrelationID,
		Model:         model,
		ArtifactRef:   res.ArtifactRef,
		Source:        SourceProvider,
		DurationMs:    s.clk.Since(start).Milliseconds(),
	}, nil
}

// saveArtifact persists fetched provider bytes locally, best effort.
func (s *Service) saveArtifact(correlationID string, data []byte) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		s.log.Warn().Err(err).Msg("create output dir")
		return
	}
	p := filepath.Join(s.outputDir, correlationID+".png")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		s.log.Warn().Err(err).Str("path", p).Msg("write artifact")
		return
	}
	s.log.Debug().Str("path", p).Msg("artifact saved")
}

// HandleCallback normalizes a webhook payload and forwards it to the
// broker. Provider status strings are case-insensitive; anything that
// is not terminal is treated as a progress report.
func (s *Service) HandleCallback(correlationID string, p types.CallbackPayload) {
	if s.brk == nil {
		return
	}
	st := broker.ProviderStatus{ArtifactURL: p.URL, Message: p.Error}
	switch strings.ToUpper(strings.TrimSpace(p.Status)) {
	case "COMPLETE", "COMPLETED":
		st.Phase = broker.PhaseComplete
	case "FAILED", "ERROR":
		st.Phase = broker.PhaseFailed
	default:
		st.Phase = broker.PhasePending
	}
	s.brk.HandleCallback(correlationID, st)
}

// Status reports the slot, the pending provider jobs, and uptime.
func (s *Service) Status() types.StatusResponse {
	resp := types.StatusResponse{
		UptimeSeconds:  int64(s.clk.Since(s.started).Seconds()),
		ServerTimeUnix: s.clk.Now().Unix(),
	}
	if s.slot != nil {
		st := s.slot.Status()
		resp.Slot = types.SlotStatus{
			Phase:        string(st.Phase),
			Occupant:     st.Occupant,
			LoadsTotal:   st.LoadsTotal,
			UnloadsTotal: st.UnloadsTotal,
		}
	}
	if s.brk != nil {
		resp.PendingJobs = s.brk.PendingJobs()
	}
	return resp
}

// Ready reports whether at least one generation route can serve work.
func (s *Service) Ready() bool {
	return len(s.models) > 0 || s.providerEnabled
}
