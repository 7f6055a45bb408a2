package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chemquery/chemquery/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "chemquery",
	Short: "Iterative natural-language querying over a ChEMBL SQLite database",
	Long: `chemquery turns a natural-language chemistry question into SQL through
an iterative refine-and-judge loop: a prompt-writer model structures the
question, a SQL-writer model generates a SQLite query, the query runs
read-only against the database, and a judge model scores the result.
Rejected attempts feed their errors and judge advice back into the next
iteration until a result is accepted or the retry budget runs out.

Every attempt's result is saved as CSV, so even a rejected run leaves
usable data behind.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "chemquery.yaml", "Path to YAML config file")
	rootCmd.PersistentFlags().String("db", "", "Path to the SQLite database (overrides config)")
	rootCmd.PersistentFlags().String("provider", "", "LLM provider: openrouter, anthropic, deepseek, cerebras (overrides config)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

// loadConfig resolves configuration from file, env, and persistent flags,
// then installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DBPath = db
	}
	if p, _ := cmd.Flags().GetString("provider"); p != "" {
		cfg.Provider = p
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	level := cfg.SlogLevel()
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}
