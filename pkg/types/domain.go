package types

// Model represents a discoverable or loadable diffusion model on disk.
type Model struct {
	// Stable identifier for the model.
	// example: sdxl-base
	ID string `json:"id" example:"sdxl-base"`
	// Human-friendly name.
	// example: SDXL Base 1.0
	Name string `json:"name" example:"SDXL Base 1.0"`
	// Absolute path to the model weights on disk.
	// example: /home/user/models/sdxl-base.safetensors
	Path string `json:"path" example:"/home/user/models/sdxl-base.safetensors"`
	// Optional family (e.g., sdxl, sd15, flux).
	// example: sdxl
	Family string `json:"family,omitempty" example:"sdxl"`
}
