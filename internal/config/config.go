// Package config loads and validates session configuration from YAML with
// environment overrides. Validation is strict: a bad cycle policy or filter
// profile fails at startup, never mid-session.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chemquery/chemquery/internal/models"
	"github.com/chemquery/chemquery/internal/prompt"
)

// Config is the full session configuration.
type Config struct {
	// Database
	DBPath          string `yaml:"db_path"`
	SchemaDocsPath  string `yaml:"schema_docs_path"`
	PromptHintsPath string `yaml:"prompt_hints_path"`

	// Model selection
	Provider    string `yaml:"provider"`
	SQLTier     string `yaml:"sql_tier"`
	JudgeTier   string `yaml:"judge_tier"`
	SQLModel    string `yaml:"sql_model"`
	JudgeModel  string `yaml:"judge_model"`
	CyclePolicy string `yaml:"cycle_policy"`

	// Loop behavior
	MaxRetries          int     `yaml:"max_retries"`
	JudgeScoreThreshold float64 `yaml:"judge_score_threshold"`
	JudgeCallRetries    int     `yaml:"judge_call_retries"`
	HistoryWindow       int     `yaml:"history_window"`
	MinRows             int     `yaml:"min_rows"`
	FilterProfile       string  `yaml:"filter_profile"`
	// KeepUnrequestedLimit disables the heuristic that strips a trailing
	// LIMIT the user never asked for.
	KeepUnrequestedLimit bool `yaml:"keep_unrequested_limit"`

	// Context budgeting
	MinContextTokens int `yaml:"min_context_tokens"`
	ContextTokens    int `yaml:"context_tokens"`

	// Generation. Writers need exploration, the judge needs consistency,
	// so the temperatures are per role.
	WriterTemperature float64 `yaml:"writer_temperature"`
	JudgeTemperature  float64 `yaml:"judge_temperature"`
	MaxTokens         int     `yaml:"max_tokens"`

	// Execution
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"`

	// Output
	OutputDir string `yaml:"output_dir"`
	LogsDir   string `yaml:"logs_dir"`
	LogLevel  string `yaml:"log_level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DBPath:              "chembl.db",
		SchemaDocsPath:      "schema_docs.md",
		PromptHintsPath:     "prompt_hints.md",
		Provider:            "openrouter",
		SQLTier:             string(models.TierExpensive),
		JudgeTier:           string(models.TierExpensive),
		CyclePolicy:         string(models.PolicyCicada),
		MaxRetries:          10,
		JudgeScoreThreshold: 0.9,
		JudgeCallRetries:    3,
		HistoryWindow:       11,
		MinRows:             0,
		FilterProfile:       string(prompt.ProfileNone),
		MinContextTokens:    100000,
		ContextTokens:       0,
		WriterTemperature:   1.0,
		JudgeTemperature:    0.1,
		MaxTokens:           8192,
		QueryTimeoutSeconds: 300,
		OutputDir:           "results",
		LogsDir:             "logs",
		LogLevel:            "info",
	}
}

// Load reads path (if it exists), applies environment overrides, and
// validates. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CHEMQUERY_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("CHEMQUERY_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("CHEMQUERY_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("CHEMQUERY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CHEMQUERY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
}

// Validate rejects configurations the loop cannot run with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	switch c.Provider {
	case "openrouter", "anthropic", "deepseek", "cerebras":
	default:
		return fmt.Errorf("unknown provider: %q", c.Provider)
	}
	if !models.Tier(c.SQLTier).IsValid() {
		return fmt.Errorf("unknown sql_tier: %q", c.SQLTier)
	}
	if !models.Tier(c.JudgeTier).IsValid() {
		return fmt.Errorf("unknown judge_tier: %q", c.JudgeTier)
	}
	if !models.Policy(c.CyclePolicy).IsValid() {
		return fmt.Errorf("unknown cycle_policy: %q", c.CyclePolicy)
	}
	if !prompt.FilterProfile(c.FilterProfile).IsValid() {
		return fmt.Errorf("unknown filter_profile: %q", c.FilterProfile)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.JudgeScoreThreshold < 0 || c.JudgeScoreThreshold > 1 {
		return fmt.Errorf("judge_score_threshold must be in [0,1], got %g", c.JudgeScoreThreshold)
	}
	if c.JudgeCallRetries < 1 {
		return fmt.Errorf("judge_call_retries must be >= 1, got %d", c.JudgeCallRetries)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("history_window cannot be negative: %d", c.HistoryWindow)
	}
	if c.MinRows < 0 {
		return fmt.Errorf("min_rows cannot be negative: %d", c.MinRows)
	}
	if c.WriterTemperature < 0 || c.WriterTemperature > 2 {
		return fmt.Errorf("writer_temperature must be in [0,2], got %g", c.WriterTemperature)
	}
	if c.JudgeTemperature < 0 || c.JudgeTemperature > 2 {
		return fmt.Errorf("judge_temperature must be in [0,2], got %g", c.JudgeTemperature)
	}
	if c.QueryTimeoutSeconds < 1 {
		return fmt.Errorf("query_timeout_seconds must be >= 1, got %d", c.QueryTimeoutSeconds)
	}
	return nil
}

// QueryTimeout returns the SQL execution timeout as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// SlogLevel maps the configured log level to slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
