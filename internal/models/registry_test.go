package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListByTier(t *testing.T) {
	cheap, err := List("openrouter", TierCheap)
	require.NoError(t, err)
	assert.NotEmpty(t, cheap)

	all, err := List("openrouter", TierAll)
	require.NoError(t, err)
	assert.Equal(t, len(CheapModels)+len(ExpensiveModels)+len(SuperModels), len(all))

	_, err = List("openrouter", Tier("midrange"))
	assert.Error(t, err)
}

func TestListProviderSpecificIgnoresTier(t *testing.T) {
	for _, provider := range []string{"anthropic", "deepseek", "cerebras"} {
		a, err := List(provider, TierCheap)
		require.NoError(t, err)
		b, err := List(provider, TierSuper)
		require.NoError(t, err)
		assert.Equal(t, a, b, "provider %s should ignore tier", provider)
	}
}

func TestFilterByContext(t *testing.T) {
	ctxMap := ContextMap{"big": 200000, "small": 32000}
	candidates := []string{"big", "small", "unknown"}

	filtered := ctxMap.FilterByContext(candidates, 100000)
	assert.Equal(t, []string{"big"}, filtered)

	// minContext <= 0 disables filtering entirely.
	assert.Equal(t, candidates, ctxMap.FilterByContext(candidates, 0))

	// Empty map disables filtering too.
	assert.Equal(t, candidates, ContextMap{}.FilterByContext(candidates, 100000))
}

func TestCandidatesOverridePromotedToFront(t *testing.T) {
	got, err := Candidates("anthropic", TierCheap, "claude-opus-4.5", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4.5", got[0])
	assert.Len(t, got, len(AnthropicModels))
}

func TestCandidatesEmptyAfterFilterIsError(t *testing.T) {
	ctxMap := ContextMap{}
	for _, m := range AllModels() {
		ctxMap[m] = 8000
	}
	_, err := Candidates("openrouter", TierCheap, "", ctxMap, 100000)
	assert.Error(t, err)
}
