package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

type GeminiClient struct {
	client *genai.Client
}

// Gemini builds a Gemini API client. An empty key falls back to GEMINI_API_KEY.
func Gemini(ctx context.Context, params ProviderParams) (*GeminiClient, error) {
	apiKey := params.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGoogleAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
	}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, model, prompt, system string, history []string) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx, model, []*genai.Content{{Parts: geminiParts(prompt, system, history)}}, nil)
	if err != nil {
		return "", err
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("model %s returned no candidates", model)
	}
	var sb strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func geminiParts(prompt, system string, history []string) []*genai.Part {
	parts := make([]*genai.Part, 0, len(history)+2)
	if system != "" {
		parts = append(parts, &genai.Part{Text: system})
	}
	for _, h := range history {
		parts = append(parts, &genai.Part{Text: h})
	}
	return append(parts, &genai.Part{Text: prompt})
}
