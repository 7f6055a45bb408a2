package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/chemquery/chemquery/internal/types"
)

// OpenAICompatClient speaks the OpenAI-compatible chat completions protocol
// shared by OpenRouter, DeepSeek and Cerebras.
type OpenAICompatClient struct {
	name    string
	baseURL string
	apiKey  string
	hc      *http.Client
}

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	deepSeekBaseURL   = "https://api.deepseek.com/v1"
	cerebrasBaseURL   = "https://api.cerebras.ai/v1"
)

// NewOpenRouterClient builds a client for OpenRouter.
func NewOpenRouterClient(apiKey string) (*OpenAICompatClient, error) {
	return newCompatClient("openrouter", openRouterBaseURL, apiKey, "OPENROUTER_API_KEY")
}

// NewDeepSeekClient builds a client for the DeepSeek direct API.
func NewDeepSeekClient(apiKey string) (*OpenAICompatClient, error) {
	return newCompatClient("deepseek", deepSeekBaseURL, apiKey, "DEEPSEEK_API_KEY")
}

// NewCerebrasClient builds a client for the Cerebras direct API.
func NewCerebrasClient(apiKey string) (*OpenAICompatClient, error) {
	return newCompatClient("cerebras", cerebrasBaseURL, apiKey, "CEREBRAS_API_KEY")
}

func newCompatClient(name, baseURL, apiKey, keyEnv string) (*OpenAICompatClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv(keyEnv)
		if apiKey == "" {
			return nil, &FatalError{Err: fmt.Errorf("%s not set", keyEnv)}
		}
	}
	return &OpenAICompatClient{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		// The per-call deadline comes from the gateway's attempt context;
		// this is a hard cap against leaked connections.
		hc: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// Name identifies the backend in logs.
func (c *OpenAICompatClient) Name() string { return c.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate performs one chat completions call.
func (c *OpenAICompatClient) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := []chatMessage{}
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("marshal chat request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &FatalError{Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s returned %d: %s", c.name, resp.StatusCode, string(snippet))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &TransientError{Err: err}
		}
		return nil, &FatalError{Err: err}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode %s response: %w", c.name, err)}
	}
	if parsed.Error != nil {
		return nil, &FatalError{Err: fmt.Errorf("%s error: %s", c.name, parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &TransientError{Err: errors.New("empty choices in response")}
	}

	return &Response{
		Text: parsed.Choices[0].Message.Content,
		Usage: types.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// FetchContextMap pulls the model catalog from OpenRouter and returns each
// model's context window. Used once at startup to filter candidates by
// minimum context and to size judge result summaries.
func (c *OpenAICompatClient) FetchContextMap(ctx context.Context) (map[string]int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch model catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model catalog returned %d", resp.StatusCode)
	}

	var catalog struct {
		Data []struct {
			ID            string `json:"id"`
			ContextLength int    `json:"context_length"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decode model catalog: %w", err)
	}

	out := make(map[string]int, len(catalog.Data))
	for _, m := range catalog.Data {
		out[m.ID] = m.ContextLength
	}
	return out, nil
}
