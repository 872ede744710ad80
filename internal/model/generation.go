package model

import "time"

// Capability is a kind of content a provider can generate.
type Capability string

const (
	CapabilityText  Capability = "text"
	CapabilityImage Capability = "image"
)

// ParseCapability converts a config or request string to a Capability.
func ParseCapability(s string) (Capability, bool) {
	switch Capability(s) {
	case CapabilityText, CapabilityImage:
		return Capability(s), true
	}
	return "", false
}

// GenerationRequest is what gets sent to a provider.
type GenerationRequest struct {
	Prompt string            `json:"prompt"`
	Units  int               `json:"units,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// UnitsOrDefault returns Units, treating anything below 1 as a single unit.
func (r GenerationRequest) UnitsOrDefault() int {
	if r.Units < 1 {
		return 1
	}
	return r.Units
}

// GenerationOutput is the raw content a provider produced.
type GenerationOutput struct {
	Text  string      `json:"text,omitempty"`
	Image *ImageAsset `json:"image,omitempty"`
}

// Empty reports whether the output carries no content.
func (o GenerationOutput) Empty() bool {
	return o.Text == "" && (o.Image == nil || (o.Image.URL == "" && len(o.Image.Data) == 0))
}

// GenerationAttempt records one provider call made while routing a request.
type GenerationAttempt struct {
	Provider  string        `json:"provider"`
	Succeeded bool          `json:"succeeded"`
	Cost      float64       `json:"cost"`
	Err       string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// GenerationResult is the outcome of a successful routing call.
type GenerationResult struct {
	Content       GenerationOutput    `json:"content"`
	ProviderUsed  string              `json:"provider_used"`
	Cost          float64             `json:"cost"`
	ReferenceCost float64             `json:"reference_cost"`
	Savings       float64             `json:"savings"`
	Attempts      []GenerationAttempt `json:"attempts"`
}
