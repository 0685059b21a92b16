// Package providers adapts hosted LLM APIs to the Completer interface used by
// language-model policies.
package providers

import (
	"context"
	"fmt"
	"strings"
)

// Completer produces one completion for prompt. system and history may be
// empty; history entries are sent oldest first ahead of prompt.
type Completer interface {
	Complete(ctx context.Context, model, prompt, system string, history []string) (string, error)
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type ProviderParams struct {
	BaseURL string
	APIKey  string
}

type ProviderOption func(*ProviderParams)

func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) {
		p.BaseURL = baseURL
	}
}

func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) {
		p.APIKey = apiKey
	}
}

// New returns the Completer for a provider name.
func New(ctx context.Context, name string, opts ...ProviderOption) (Completer, error) {
	switch strings.ToLower(name) {
	case "", ProviderOpenAI:
		return OpenAi(ctx, opts...), nil
	case ProviderGemini:
		params := ProviderParams{}
		for _, opt := range opts {
			opt(&params)
		}
		return Gemini(ctx, params)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
