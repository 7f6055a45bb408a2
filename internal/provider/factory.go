package provider

import "fmt"

// New resolves a backend client by provider name. API keys come from the
// environment unless supplied explicitly.
func New(provider, apiKey string) (Client, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicClient(apiKey)
	case "openrouter", "":
		return NewOpenRouterClient(apiKey)
	case "deepseek":
		return NewDeepSeekClient(apiKey)
	case "cerebras":
		return NewCerebrasClient(apiKey)
	default:
		return nil, &FatalError{Err: fmt.Errorf("unknown provider: %q", provider)}
	}
}
