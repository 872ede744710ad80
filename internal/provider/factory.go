package provider

import (
	"go.uber.org/zap"

	"github.com/sells-group/intel-cache/pkg/anthropic"
	"github.com/sells-group/intel-cache/pkg/openai"
	"github.com/sells-group/intel-cache/pkg/perplexity"
)

// Credentials carries API keys and endpoint overrides per backend kind. An
// empty key leaves every provider of that kind unconfigured.
type Credentials struct {
	AnthropicKey     string
	AnthropicBaseURL string
	OpenAIKey        string
	OpenAIBaseURL    string
	PerplexityKey    string
	PerplexityURL    string
	PerplexityRPS    float64
}

// BuildBackends creates a backend for every spec whose kind has
// credentials. Specs with an unknown kind are logged and skipped.
func BuildBackends(specs []Spec, creds Credentials) map[string]Backend {
	out := make(map[string]Backend, len(specs))
	for _, s := range specs {
		switch s.Backend {
		case KindAnthropic:
			if creds.AnthropicKey == "" {
				continue
			}
			var opts []anthropic.Option
			if creds.AnthropicBaseURL != "" {
				opts = append(opts, anthropic.WithBaseURL(creds.AnthropicBaseURL))
			}
			out[s.Name] = NewAnthropicBackend(anthropic.NewClient(creds.AnthropicKey, opts...), s.Model)

		case KindOpenAI:
			if creds.OpenAIKey == "" {
				continue
			}
			var opts []openai.Option
			if creds.OpenAIBaseURL != "" {
				opts = append(opts, openai.WithBaseURL(creds.OpenAIBaseURL))
			}
			out[s.Name] = NewOpenAIBackend(openai.NewClient(creds.OpenAIKey, opts...), s.Model)

		case KindPerplexity:
			if creds.PerplexityKey == "" {
				continue
			}
			opts := []perplexity.Option{perplexity.WithRateLimit(creds.PerplexityRPS)}
			if creds.PerplexityURL != "" {
				opts = append(opts, perplexity.WithBaseURL(creds.PerplexityURL))
			}
			out[s.Name] = NewPerplexityBackend(perplexity.NewClient(creds.PerplexityKey, opts...), s.Model)

		default:
			zap.L().Warn("provider: unknown backend kind, leaving unconfigured",
				zap.String("provider", s.Name),
				zap.String("backend", s.Backend),
			)
		}
	}
	return out
}
