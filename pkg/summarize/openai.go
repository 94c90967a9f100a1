package summarize

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/avoronin/newsdigest/pkg/retry"
)

// OpenAI is a Completer backed by the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	model  openai.ChatModel
}

// NewOpenAI creates an OpenAI completer. An empty model defaults to
// gpt-4o-mini; baseURL overrides the endpoint for compatible gateways.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	m := openai.ChatModelGPT4oMini
	if model != "" {
		m = openai.ChatModel(model)
	}
	return &OpenAI{client: &client, model: m}
}

func (c *OpenAI) Name() string { return "openai" }

func (c *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAIError separates failures worth retrying (rate limits,
// timeouts, 5xx) from ones that never succeed (auth, malformed request).
func classifyOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 400, 401, 403, 404, 422:
			return retry.Permanent(fmt.Errorf("openai status %d: %w", apierr.StatusCode, err))
		}
	}
	return fmt.Errorf("openai: %w", err)
}
