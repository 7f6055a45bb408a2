package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxRetries)
	assert.Equal(t, 0.9, cfg.JudgeScoreThreshold)
	assert.Equal(t, 11, cfg.HistoryWindow)
	assert.Equal(t, "cicada", cfg.CyclePolicy)
	assert.Equal(t, "expensive", cfg.SQLTier)
	assert.Equal(t, "expensive", cfg.JudgeTier)
	assert.Equal(t, 100000, cfg.MinContextTokens)
	assert.Equal(t, 1.0, cfg.WriterTemperature)
	assert.Equal(t, 0.1, cfg.JudgeTemperature)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /data/chembl_35.db
provider: anthropic
cycle_policy: cicada
max_retries: 5
min_rows: 100
filter_profile: strict
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/chembl_35.db", cfg.DBPath)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "cicada", cfg.CyclePolicy)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 100, cfg.MinRows)
	// Untouched keys keep defaults.
	assert.Equal(t, 0.9, cfg.JudgeScoreThreshold)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad provider", "provider: openai"},
		{"bad policy", "cycle_policy: chaotic"},
		{"bad profile", "filter_profile: aggressive"},
		{"bad threshold", "judge_score_threshold: 1.5"},
		{"zero retries", "max_retries: 0"},
		{"bad tier", "sql_tier: premium"},
		{"bad writer temperature", "writer_temperature: 3.0"},
		{"bad judge temperature", "judge_temperature: -0.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHEMQUERY_DB", "/env/db.sqlite")
	t.Setenv("CHEMQUERY_PROVIDER", "deepseek")
	t.Setenv("CHEMQUERY_MAX_RETRIES", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/db.sqlite", cfg.DBPath)
	assert.Equal(t, "deepseek", cfg.Provider)
	assert.Equal(t, 7, cfg.MaxRetries)
}
