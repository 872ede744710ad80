// Package openai wraps the OpenAI chat completion and image generation
// endpoints used as paid generation back-ends.
package openai

import (
	"context"
	"encoding/base64"
	"errors"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultChatModel  = "gpt-4o-mini"
	defaultImageModel = "gpt-image-1"
	defaultImageSize  = "1024x1024"
)

// Client defines the OpenAI operations used for generation.
type Client interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error)
}

// ChatRequest is a single-turn chat completion.
type ChatRequest struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int64
}

// ChatResponse is the first choice of a chat completion.
type ChatResponse struct {
	ID               string
	Model            string
	Content          string
	FinishReason     string
	PromptTokens     int64
	CompletionTokens int64
}

// ImageRequest asks for one generated image.
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
}

// ImageResponse holds the first generated image. Exactly one of URL or Data
// is set, depending on what the model returns.
type ImageResponse struct {
	URL           string
	Data          []byte
	MIMEType      string
	RevisedPrompt string
}

// Option configures the client.
type Option func(*sdkClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *sdkClient) {
		c.baseURL = url
	}
}

// WithChatModel sets the default chat model.
func WithChatModel(model string) Option {
	return func(c *sdkClient) {
		c.chatModel = model
	}
}

// WithImageModel sets the default image model.
func WithImageModel(model string) Option {
	return func(c *sdkClient) {
		c.imageModel = model
	}
}

type sdkClient struct {
	client     sdk.Client
	baseURL    string
	chatModel  string
	imageModel string
}

// NewClient creates an OpenAI client backed by openai-go. SDK retries are
// disabled so failures surface to the router immediately.
func NewClient(apiKey string, opts ...Option) Client {
	c := &sdkClient{
		chatModel:  defaultChatModel,
		imageModel: defaultImageModel,
	}
	for _, o := range opts {
		o(c)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	c.client = sdk.NewClient(reqOpts...)
	return c
}

func (c *sdkClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}

	var msgs []sdk.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, sdk.SystemMessage(req.System))
	}
	msgs = append(msgs, sdk.UserMessage(req.Prompt))

	params := sdk.ChatCompletionNewParams{
		Model:    model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(req.MaxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "openai: chat completion")
	}

	out := &ChatResponse{
		ID:               resp.ID,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = resp.Choices[0].FinishReason
	}

	zap.L().Debug("openai: chat usage",
		zap.String("model", out.Model),
		zap.Int64("prompt_tokens", out.PromptTokens),
		zap.Int64("completion_tokens", out.CompletionTokens),
	)
	return out, nil
}

func (c *sdkClient) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	model := req.Model
	if model == "" {
		model = c.imageModel
	}
	size := req.Size
	if size == "" {
		size = defaultImageSize
	}

	resp, err := c.client.Images.Generate(ctx, sdk.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  sdk.ImageModel(model),
		N:      sdk.Int(1),
		Size:   sdk.ImageGenerateParamsSize(size),
	})
	if err != nil {
		return nil, eris.Wrap(err, "openai: generate image")
	}
	if len(resp.Data) == 0 {
		return nil, eris.New("openai: generate image: empty response")
	}

	img := resp.Data[0]
	out := &ImageResponse{URL: img.URL, RevisedPrompt: img.RevisedPrompt}
	if img.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, eris.Wrap(err, "openai: decode image data")
		}
		out.Data = data
		out.MIMEType = "image/png"
	}
	if out.URL == "" && len(out.Data) == 0 {
		return nil, eris.New("openai: generate image: no url or data")
	}
	return out, nil
}

// StatusCode returns the HTTP status of an API error, or 0 when err did not
// come from an API response.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
