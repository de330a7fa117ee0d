// Package httpapi exposes the generation service over HTTP: the
// generate endpoint, the provider webhook, and the usual health,
// status, and metrics plumbing.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error)
	HandleCallback(correlationID string, p types.CallbackPayload)
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/generate", handleGenerate(svc))
	r.Post("/webhook/provider/{correlation_id}", handleWebhook(svc))

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.ModelsResponse{Models: svc.ListModels()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleGenerate serves POST /generate. The handler blocks until the
// request resolves by any completion path, then answers with the final
// artifact reference or a mapped error.
//
// @Summary      Generate an image
// @Accept       json
// @Produce      json
// @Param        request body types.GenerateRequest true "generation request"
// @Success      200 {object} types.GenerateResponse
// @Failure      400 {object} types.ErrorResponse
// @Failure      409 {object} types.ErrorResponse
// @Failure      422 {object} types.ErrorResponse
// @Failure      502 {object} types.ErrorResponse
// @Failure      504 {object} types.ErrorResponse
// @Router       /generate [post]
func handleGenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}

		start := time.Now()
		rid := middleware.GetReqID(r.Context())
		zlog.Info().
			Str("request_id", rid).
			Str("correlation_id", req.CorrelationID).
			Str("model", req.Model).
			Msg("generate start")

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := svc.Generate(ctx, req)
		if err != nil {
			// Client disconnect or shutdown: nothing left to answer.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusFor(err)
			writeJSONError(w, status, err.Error())
			zlog.Info().
				Str("request_id", rid).
				Int("status", status).
				Dur("dur", time.Since(start)).
				Err(err).
				Msg("generate end")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
		zlog.Info().
			Str("request_id", rid).
			Str("correlation_id", resp.CorrelationID).
			Str("source", resp.Source).
			Dur("dur", time.Since(start)).
			Msg("generate end")
	}
}

// handleWebhook serves POST /webhook/provider/{correlation_id}. The
// delivery is acknowledged with 202 regardless of whether the job is
// still pending; duplicate or late callbacks are dropped downstream.
//
// @Summary      Provider completion callback
// @Accept       json
// @Param        correlation_id path string true "correlation id"
// @Param        payload body types.CallbackPayload true "provider status"
// @Success      202 {string} string "accepted"
// @Failure      400 {object} types.ErrorResponse
// @Router       /webhook/provider/{correlation_id} [post]
func handleWebhook(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := chi.URLParam(r, "correlation_id")
		if correlationID == "" {
			writeJSONError(w, http.StatusBadRequest, "correlation id is required")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var p types.CallbackPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		zlog.Debug().
			Str("correlation_id", correlationID).
			Str("status", p.Status).
			Msg("webhook received")
		svc.HandleCallback(correlationID, p)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("accepted"))
	}
}
