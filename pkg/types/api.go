package types

// GenerateRequest represents a generation request payload.
type GenerateRequest struct {
	// Optional correlation id chosen by the caller. If empty, the server
	// generates one. Must be unique among in-flight requests.
	// example: abc123
	CorrelationID string `json:"correlation_id,omitempty" example:"abc123"`
	// Optional model identifier. Ids present in the local registry are
	// generated locally; anything else is routed to the remote provider.
	// If empty, the server default is used.
	// example: sdxl-base
	Model string `json:"model,omitempty" example:"sdxl-base"`
	// Required prompt text to generate an image for.
	// example: a lighthouse at dusk, oil painting
	Prompt string `json:"prompt" example:"a lighthouse at dusk, oil painting"`
	// Image width in pixels.
	// example: 1024
	Width int `json:"width,omitempty" example:"1024"`
	// Image height in pixels.
	// example: 1024
	Height int `json:"height,omitempty" example:"1024"`
	// Number of denoising steps (local generation only).
	// example: 30
	Steps int `json:"steps,omitempty" example:"30"`
	// Classifier-free guidance scale (local generation only).
	// example: 7.5
	Guidance float64 `json:"guidance,omitempty" example:"7.5"`
}

// GenerateResponse is returned by POST /generate on success.
type GenerateResponse struct {
	// Correlation id of the resolved request.
	// example: abc123
	CorrelationID string `json:"correlation_id" example:"abc123"`
	// Model that produced the artifact.
	// example: sdxl-base
	Model string `json:"model" example:"sdxl-base"`
	// Reference to the produced artifact: a provider URL or a local path.
	// example: https://cdn.example.com/generations/abc123.png
	ArtifactRef string `json:"artifact_ref" example:"https://cdn.example.com/generations/abc123.png"`
	// Which path produced the artifact: "local" or "provider".
	// example: provider
	Source string `json:"source" example:"provider"`
	// Wall time spent resolving the request, in milliseconds.
	// example: 4230
	DurationMs int64 `json:"duration_ms" example:"4230"`
}

// CallbackPayload is the body accepted on the provider webhook endpoint.
type CallbackPayload struct {
	// Terminal status reported by the provider: COMPLETE or FAILED.
	// example: COMPLETE
	Status string `json:"status" example:"COMPLETE"`
	// Artifact URL when status is COMPLETE.
	// example: https://cdn.example.com/generations/abc123.png
	URL string `json:"url,omitempty" example:"https://cdn.example.com/generations/abc123.png"`
	// Provider error message when status is FAILED.
	// example: content policy violation
	Error string `json:"error,omitempty" example:"content policy violation"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of locally available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// SlotStatus summarizes the local resource slot for /status.
type SlotStatus struct {
	// Lifecycle phase of the slot (empty, loading, ready, unloading).
	// example: ready
	Phase string `json:"phase" example:"ready"`
	// Id of the currently loaded model, empty when the slot is empty.
	// example: sdxl-base
	Occupant string `json:"occupant,omitempty" example:"sdxl-base"`
	// Total number of model loads since start.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of model unloads since start.
	// example: 11
	UnloadsTotal uint64 `json:"unloads_total" example:"11"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Local resource slot state.
	Slot SlotStatus `json:"slot"`
	// Number of provider jobs currently awaiting completion.
	// example: 2
	PendingJobs int `json:"pending_jobs" example:"2"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
