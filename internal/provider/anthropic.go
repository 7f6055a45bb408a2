package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/chemquery/chemquery/internal/types"
)

// AnthropicClient calls the Anthropic Messages API directly.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient builds a client from an explicit API key, falling back
// to ANTHROPIC_API_KEY. A missing key is a fatal configuration error.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, &FatalError{Err: errors.New("ANTHROPIC_API_KEY not set")}
		}
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: &client}, nil
}

// Name identifies the backend in logs.
func (c *AnthropicClient) Name() string { return "anthropic" }

// Generate performs one Messages API call.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text: text,
		Usage: types.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

// classifyAnthropicError maps SDK errors onto the gateway taxonomy using
// the HTTP status when the SDK exposes it.
func classifyAnthropicError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429 || apierr.StatusCode >= 500:
			return &TransientError{Err: err}
		case apierr.StatusCode == 401 || apierr.StatusCode == 403 ||
			apierr.StatusCode == 400 || apierr.StatusCode == 404:
			return &FatalError{Err: fmt.Errorf("anthropic request rejected (%d): %w", apierr.StatusCode, err)}
		}
	}
	return Classify(err)
}
