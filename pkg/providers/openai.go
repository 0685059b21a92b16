package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1/"

type OpenAIClient struct {
	client  *openai.Client
	baseURL string
}

func newOpenAIClient(params ProviderParams) *OpenAIClient {
	if params.BaseURL == "" {
		params.BaseURL = defaultOpenAIBaseURL
	}
	opts := []option.RequestOption{option.WithBaseURL(params.BaseURL)}
	if params.APIKey != "" {
		opts = append(opts, option.WithAPIKey(params.APIKey))
	}
	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		baseURL: params.BaseURL,
	}
}

// OpenAi builds a client for any OpenAI-compatible endpoint. Unset options
// fall back to OPENAI_API_BASE_URL and OPENAI_API_KEY.
func OpenAi(ctx context.Context, opts ...ProviderOption) *OpenAIClient {
	params := &ProviderParams{}
	for _, opt := range opts {
		opt(params)
	}

	if params.BaseURL == "" {
		params.BaseURL = os.Getenv("OPENAI_API_BASE_URL")
	}
	if params.APIKey == "" {
		params.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return newOpenAIClient(*params)
}

// BaseURL returns the endpoint requests are sent to.
func (c *OpenAIClient) BaseURL() string {
	return c.baseURL
}

func (c *OpenAIClient) Complete(ctx context.Context, model, prompt, system string, history []string) (string, error) {
	chatCompletion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F(openAIMessages(prompt, system, history)),
		Model:    openai.F(model),
	})
	if err != nil {
		return "", err
	}
	if len(chatCompletion.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no choices", model)
	}
	return chatCompletion.Choices[0].Message.Content, nil
}

func openAIMessages(prompt, system string, history []string) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, h := range history {
		msgs = append(msgs, openai.UserMessage(h))
	}
	return append(msgs, openai.UserMessage(prompt))
}
