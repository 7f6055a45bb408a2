package main

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chemquery/chemquery/internal/models"
	"github.com/chemquery/chemquery/internal/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List candidate models for the configured provider",
	Long: `List the models the refinement loop would cycle through, in schedule
order for the configured cycling policy.

With --contexts the provider's model listing is queried and each model's
context window is shown; models below min_context_tokens are marked as
filtered.

Examples:
  chemquery models
  chemquery models --tier expensive
  chemquery models --contexts
  chemquery models --policy cicada --retries 20`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().String("tier", "", "Model tier: cheap, expensive, super, all (overrides config)")
	modelsCmd.Flags().String("policy", "", "Cycling policy to preview (overrides config)")
	modelsCmd.Flags().Int("retries", 0, "Schedule length to preview (overrides config max_retries)")
	modelsCmd.Flags().Bool("contexts", false, "Fetch and show per-model context windows")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if t, _ := cmd.Flags().GetString("tier"); t != "" {
		cfg.SQLTier = t
	}
	if p, _ := cmd.Flags().GetString("policy"); p != "" {
		cfg.CyclePolicy = p
	}
	retries := cfg.MaxRetries
	if n, _ := cmd.Flags().GetInt("retries"); n > 0 {
		retries = n
	}

	var ctxMap models.ContextMap
	if show, _ := cmd.Flags().GetBool("contexts"); show {
		client, err := provider.New(cfg.Provider, "")
		if err != nil {
			return err
		}
		ctxMap = fetchContexts(cmd.Context(), client, slog.Default())
		if ctxMap == nil {
			color.Yellow("Context windows unavailable for provider %s", cfg.Provider)
		}
	}

	cands, err := models.List(cfg.Provider, models.Tier(cfg.SQLTier))
	if err != nil {
		return err
	}

	color.Cyan("Provider: %s, tier: %s, policy: %s", cfg.Provider, cfg.SQLTier, cfg.CyclePolicy)
	for _, m := range cands {
		line := "  " + m
		if ctxMap != nil {
			if c, ok := ctxMap[m]; ok {
				line += fmt.Sprintf("  (context: %d)", c)
				if cfg.MinContextTokens > 0 && c < cfg.MinContextTokens {
					line += "  [filtered]"
				}
			} else {
				line += "  (context: unknown)"
			}
		}
		fmt.Println(line)
	}

	usable := cands
	if ctxMap != nil && cfg.MinContextTokens > 0 {
		usable = ctxMap.FilterByContext(cands, cfg.MinContextTokens)
	}
	schedule, err := models.Schedule(usable, retries, models.Policy(cfg.CyclePolicy))
	if err != nil {
		return err
	}

	fmt.Println()
	color.Cyan("Schedule for %d attempts:", retries)
	counts := map[string]int{}
	for i, m := range schedule {
		fmt.Printf("  %2d: %s\n", i+1, m)
		counts[m]++
	}

	names := make([]string, 0, len(counts))
	for m := range counts {
		names = append(names, m)
	}
	sort.Strings(names)
	fmt.Println()
	for _, m := range names {
		fmt.Printf("  %s: %d attempts\n", m, counts[m])
	}
	return nil
}
