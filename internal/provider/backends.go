package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cache/internal/model"
	"github.com/sells-group/intel-cache/internal/resilience"
	"github.com/sells-group/intel-cache/pkg/anthropic"
	"github.com/sells-group/intel-cache/pkg/openai"
	"github.com/sells-group/intel-cache/pkg/perplexity"
)

// Backend kinds accepted in registry specs.
const (
	KindAnthropic  = "anthropic"
	KindOpenAI     = "openai"
	KindPerplexity = "perplexity"
)

// ErrUnsupportedCapability is returned when a backend is asked for content
// it cannot produce.
var ErrUnsupportedCapability = eris.New("provider: unsupported capability")

// systemPrompt is sent with text generations when the request does not
// carry a "system" param.
const systemPrompt = "You write concise, accurate marketing content."

func systemFor(req model.GenerationRequest) string {
	if s := req.Params["system"]; s != "" {
		return s
	}
	return systemPrompt
}

func emptyOutput(name string) error {
	return eris.Errorf("provider: %s returned empty content", name)
}

func withStatus(err error, status int) error {
	if status == 0 {
		return err
	}
	return resilience.NewStatusError(err, status)
}

// AnthropicBackend generates text through the Anthropic Messages API.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

// NewAnthropicBackend creates a text backend using model.
func NewAnthropicBackend(client anthropic.Client, model string) *AnthropicBackend {
	return &AnthropicBackend{client: client, model: model}
}

// Generate implements Backend.
func (b *AnthropicBackend) Generate(ctx context.Context, capability model.Capability, req model.GenerationRequest) (*model.GenerationOutput, error) {
	if capability != model.CapabilityText {
		return nil, ErrUnsupportedCapability
	}
	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:    b.model,
		System:   systemFor(req),
		Messages: []anthropic.Message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, withStatus(err, anthropic.StatusCode(err))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, emptyOutput(KindAnthropic)
	}
	return &model.GenerationOutput{Text: text}, nil
}

// OpenAIBackend generates text via chat completions and images via the
// images endpoint.
type OpenAIBackend struct {
	client openai.Client
	model  string
}

// NewOpenAIBackend creates a backend. model applies to whichever endpoint
// the capability selects; empty uses the client defaults.
func NewOpenAIBackend(client openai.Client, model string) *OpenAIBackend {
	return &OpenAIBackend{client: client, model: model}
}

// Generate implements Backend.
func (b *OpenAIBackend) Generate(ctx context.Context, capability model.Capability, req model.GenerationRequest) (*model.GenerationOutput, error) {
	switch capability {
	case model.CapabilityText:
		resp, err := b.client.Complete(ctx, openai.ChatRequest{
			Model:  b.model,
			System: systemFor(req),
			Prompt: req.Prompt,
		})
		if err != nil {
			return nil, withStatus(err, openai.StatusCode(err))
		}
		text := strings.TrimSpace(resp.Content)
		if text == "" {
			return nil, emptyOutput(KindOpenAI)
		}
		return &model.GenerationOutput{Text: text}, nil

	case model.CapabilityImage:
		resp, err := b.client.GenerateImage(ctx, openai.ImageRequest{
			Model:  b.model,
			Prompt: req.Prompt,
			Size:   req.Params["size"],
		})
		if err != nil {
			return nil, withStatus(err, openai.StatusCode(err))
		}
		return &model.GenerationOutput{Image: &model.ImageAsset{
			URL:      resp.URL,
			Data:     resp.Data,
			MIMEType: resp.MIMEType,
		}}, nil

	default:
		return nil, ErrUnsupportedCapability
	}
}

// PerplexityBackend generates text through the Perplexity chat API.
type PerplexityBackend struct {
	client perplexity.Client
	model  string
}

// NewPerplexityBackend creates a text backend.
func NewPerplexityBackend(client perplexity.Client, model string) *PerplexityBackend {
	return &PerplexityBackend{client: client, model: model}
}

// Generate implements Backend.
func (b *PerplexityBackend) Generate(ctx context.Context, capability model.Capability, req model.GenerationRequest) (*model.GenerationOutput, error) {
	if capability != model.CapabilityText {
		return nil, ErrUnsupportedCapability
	}
	resp, err := b.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: b.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: systemFor(req)},
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		var apiErr *perplexity.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.NewStatusError(err, apiErr.StatusCode)
		}
		return nil, err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, emptyOutput(KindPerplexity)
	}
	return &model.GenerationOutput{Text: text}, nil
}
