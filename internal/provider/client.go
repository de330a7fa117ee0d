// Package provider implements the broker's Gateway against the remote
// generation API. It is the one place that knows the provider's wire
// shapes; everything leaving this package is a typed broker value.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"visiond/internal/broker"
)

const defaultTimeout = 120 * time.Second

// Config holds the provider endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single HTTP exchange; defaults to 120s.
	Timeout time.Duration
}

// Client talks to the remote generation API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        zerolog.Logger
}

var _ broker.Gateway = (*Client)(nil)

func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		log:        log.With().Str("component", "provider").Logger(),
	}
}

// IsConfigured returns true if the client has an API key.
func (c *Client) IsConfigured() bool { return c.apiKey != "" }

type submitPayload struct {
	Prompt      string `json:"prompt"`
	ModelID     string `json:"modelId,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	NumImages   int    `json:"num_images"`
	CallbackURL string `json:"webhookCallbackUrl,omitempty"`
}

// submitResponse covers the two response shapes the provider has shipped
// over time. Normalizing here is what keeps the rest of the system on a
// single typed contract.
type submitResponse struct {
	SDGenerationJob *struct {
		GenerationID string `json:"generationId"`
	} `json:"sdGenerationJob"`
	GenerationsByPK *struct {
		ID string `json:"id"`
	} `json:"generations_by_pk"`
}

func (r submitResponse) externalID() (string, bool) {
	if r.SDGenerationJob != nil && r.SDGenerationJob.GenerationID != "" {
		return r.SDGenerationJob.GenerationID, true
	}
	if r.GenerationsByPK != nil && r.GenerationsByPK.ID != "" {
		return r.GenerationsByPK.ID, true
	}
	return "", false
}

type statusResponse struct {
	GenerationsByPK struct {
		Status          string `json:"status"`
		ErrorMessage    string `json:"errorMessage"`
		GeneratedImages []struct {
			URL string `json:"url"`
		} `json:"generated_images"`
	} `json:"generations_by_pk"`
}

// Submit starts a generation and returns the provider's id. Submission
// failures are terminal: any error here is a rejection, never retried.
func (c *Client) Submit(ctx context.Context, req broker.SubmitRequest) (string, error) {
	payload := submitPayload{
		Prompt:      req.Prompt,
		ModelID:     req.Model,
		Width:       req.Width,
		Height:      req.Height,
		NumImages:   1,
		CallbackURL: req.CallbackURL,
	}
	var resp submitResponse
	if err := c.post(ctx, "/v1/generations", payload, &resp); err != nil {
		return "", broker.ErrProviderRejected(err.Error())
	}
	id, ok := resp.externalID()
	if !ok {
		return "", broker.ErrProviderRejected("could not extract generation id from response")
	}
	return id, nil
}

// Status reports the current phase of a generation. Transport and server
// errors are transient; the poll loop retries them.
func (c *Client) Status(ctx context.Context, externalID string) (broker.ProviderStatus, error) {
	var resp statusResponse
	if err := c.get(ctx, "/v1/generations/"+externalID, &resp); err != nil {
		return broker.ProviderStatus{}, broker.ErrProviderTransient(err)
	}
	g := resp.GenerationsByPK
	switch g.Status {
	case "COMPLETE":
		if len(g.GeneratedImages) == 0 {
			return broker.ProviderStatus{
				Phase:   broker.PhaseFailed,
				Message: "generation complete but no images returned",
			}, nil
		}
		return broker.ProviderStatus{
			Phase:       broker.PhaseComplete,
			ArtifactURL: g.GeneratedImages[0].URL,
		}, nil
	case "FAILED":
		msg := g.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}
		return broker.ProviderStatus{Phase: broker.PhaseFailed, Message: msg}, nil
	default:
		// PENDING, RUNNING, and anything new the provider invents.
		return broker.ProviderStatus{Phase: broker.PhasePending}, nil
	}
}

// Fetch downloads the artifact bytes from the returned URL.
func (c *Client) Fetch(ctx context.Context, artifactURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artifact download error (status %d)", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// post sends a POST request with JSON body.
func (c *Client) post(ctx context.Context, endpoint string, body any, result any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req, result)
}

// get sends a GET request and parses the JSON response.
func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response.
func (c *Client) doRequest(req *http.Request, result any) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Str("url", req.URL.String()).Err(err).Msg("provider request failed")
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("url", req.URL.String()).Msg("provider response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
