package summarize

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/avoronin/newsdigest/pkg/retry"
)

// Anthropic is a Completer backed by the Anthropic messages API.
type Anthropic struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropic creates an Anthropic completer.
func NewAnthropic(apiKey, baseURL, model string) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	m := anthropic.ModelClaude3_5HaikuLatest
	if model != "" {
		m = anthropic.Model(model)
	}
	return &Anthropic{client: &client, model: m}
}

func (c *Anthropic) Name() string { return "anthropic" }

func (c *Anthropic) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classifyAnthropicError(err)
	}

	if len(resp.Content) == 0 {
		return "", fmt.Errorf("no content returned")
	}
	return resp.Content[0].Text, nil
}

func classifyAnthropicError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 400, 401, 403, 404, 422:
			return retry.Permanent(fmt.Errorf("anthropic status %d: %w", apierr.StatusCode, err))
		}
	}
	return fmt.Errorf("anthropic: %w", err)
}

// NewCompleter selects a provider by name. Defaults to openai.
func NewCompleter(provider, apiKey, baseURL, model string) Completer {
	switch provider {
	case "anthropic":
		return NewAnthropic(apiKey, baseURL, model)
	default:
		return NewOpenAI(apiKey, baseURL, model)
	}
}
