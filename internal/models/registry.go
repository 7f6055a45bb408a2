// Package models holds the static model registry and the cycling policies
// that decide which model serves a given attempt.
package models

import (
	"fmt"
	"strings"
)

// Tier groups models by cost. Cheap models are probed first under the
// default cycling policy; expensive models back the judge by default.
type Tier string

const (
	TierCheap     Tier = "cheap"
	TierExpensive Tier = "expensive"
	TierSuper     Tier = "super"
	TierAll       Tier = "all"
)

// IsValid checks the tier value.
func (t Tier) IsValid() bool {
	switch t {
	case TierCheap, TierExpensive, TierSuper, TierAll:
		return true
	}
	return false
}

// OpenRouter model identifiers, grouped by cost tier.
var (
	CheapModels = []string{
		"z-ai/glm-4.7",
		"z-ai/glm-4.6v",
		"z-ai/glm-4.6:exacto",
		"z-ai/glm-4.5-air:free",
		"minimax/minimax-m2.1",
		"anthropic/claude-4.5-haiku",
		"deepseek/deepseek-v3.2-speciale",
		"deepseek/deepseek-v3.2",
		"openai/gpt-5.1-codex-mini",
		"openai/gpt-5-nano",
		"x-ai/grok-4.1-fast",
		"x-ai/grok-code-fast-1",
		"google/gemini-3-flash-preview",
		"qwen/qwen3-coder-flash",
	}

	ExpensiveModels = []string{
		"openai/gpt-5.2",
		"openai/gpt-5.2-chat",
		"openai/gpt-5.1-codex-max",
		"openai/gpt-5.1-codex",
		"anthropic/claude-opus-4.5",
		"anthropic/claude-sonnet-4.5",
		"anthropic/claude-haiku-4.5",
		"x-ai/grok-4",
		"google/gemini-3-pro-preview",
		"qwen/qwen3-coder-plus",
		"qwen/qwen3-coder:exacto",
	}

	SuperModels = []string{
		"openai/gpt-5.2-pro",
	}
)

// Provider-specific model lists. These providers expose a handful of models
// directly, so tier selection does not apply to them.
var (
	CerebrasModels = []string{
		"zai-glm-4.7",
	}

	DeepSeekModels = []string{
		"deepseek-reasoner",
		"deepseek-chat",
	}

	AnthropicModels = []string{
		"claude-haiku-4.5",
		"claude-sonnet-4.5",
		"claude-opus-4.5",
	}
)

// AllModels returns every OpenRouter model across tiers.
func AllModels() []string {
	all := make([]string, 0, len(CheapModels)+len(ExpensiveModels)+len(SuperModels))
	all = append(all, CheapModels...)
	all = append(all, ExpensiveModels...)
	all = append(all, SuperModels...)
	return all
}

// List resolves the candidate model list for a provider and tier. Providers
// with their own catalogs ignore the tier.
func List(provider string, tier Tier) ([]string, error) {
	switch strings.ToLower(provider) {
	case "cerebras":
		return append([]string(nil), CerebrasModels...), nil
	case "deepseek":
		return append([]string(nil), DeepSeekModels...), nil
	case "anthropic":
		return append([]string(nil), AnthropicModels...), nil
	}

	switch tier {
	case TierCheap:
		return append([]string(nil), CheapModels...), nil
	case TierExpensive:
		return append([]string(nil), ExpensiveModels...), nil
	case TierSuper:
		return append([]string(nil), SuperModels...), nil
	case TierAll:
		return AllModels(), nil
	}
	return nil, fmt.Errorf("invalid model tier: %q", tier)
}

// ContextMap maps model id to context window size in tokens. A nil or empty
// map disables context filtering.
type ContextMap map[string]int

// FilterByContext drops candidates whose context window is below minContext.
// An unknown model counts as zero context and is dropped.
func (m ContextMap) FilterByContext(candidates []string, minContext int) []string {
	if minContext <= 0 || len(m) == 0 {
		return candidates
	}
	filtered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if m[c] >= minContext {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// Candidates resolves the final ordered candidate list for one role.
// An explicit override model is promoted to the front so it serves attempt 1
// and still participates in cycling afterwards. An empty result is a
// configuration error: the session must fail fast, not retry.
func Candidates(provider string, tier Tier, override string, ctxMap ContextMap, minContext int) ([]string, error) {
	base, err := List(provider, tier)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(provider, "openrouter") {
		base = ctxMap.FilterByContext(base, minContext)
	}

	if override != "" {
		out := []string{override}
		for _, m := range base {
			if m != override {
				out = append(out, m)
			}
		}
		return out, nil
	}

	if len(base) == 0 {
		return nil, fmt.Errorf("no %s models meet min_context=%d for provider %s", tier, minContext, provider)
	}
	return base, nil
}
