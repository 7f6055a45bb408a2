package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chemquery/chemquery/internal/config"
	"github.com/chemquery/chemquery/internal/executor"
	"github.com/chemquery/chemquery/internal/loop"
	"github.com/chemquery/chemquery/internal/models"
	"github.com/chemquery/chemquery/internal/output"
	"github.com/chemquery/chemquery/internal/prompt"
	"github.com/chemquery/chemquery/internal/provider"
	"github.com/chemquery/chemquery/internal/schemadoc"
	"github.com/chemquery/chemquery/internal/types"
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a natural-language question with iteratively refined SQL",
	Long: `Run the full refinement loop for one question.

Examples:
  chemquery query "EGFR inhibitors with IC50 below 100 nM"
  chemquery query --profile strict --min-rows 50 "kinase inhibitors published since 2018"
  chemquery query --policy cicada --max-retries 20 "top 10 most potent BRAF inhibitors"
  chemquery query --format csv "targets with the most tested compounds" > out.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().Int("max-retries", 0, "Maximum refinement attempts (overrides config)")
	queryCmd.Flags().String("policy", "", "Model cycling policy: orderly, random, cicada (overrides config)")
	queryCmd.Flags().String("profile", "", "Filter profile: none, strict, relaxed (overrides config)")
	queryCmd.Flags().Int("min-rows", -1, "Reject accepted results below this row count (overrides config)")
	queryCmd.Flags().String("tier", "", "SQL-writer model tier: cheap, expensive, super (overrides config)")
	queryCmd.Flags().String("judge-tier", "", "Judge model tier (overrides config)")
	queryCmd.Flags().String("sql-model", "", "Pin a specific SQL-writer model (tried first)")
	queryCmd.Flags().String("judge-model", "", "Pin a specific judge model (tried first)")
	queryCmd.Flags().StringP("format", "f", "table", "Output format: table, csv, json")
	queryCmd.Flags().String("output-dir", "", "Directory for per-attempt CSV files (overrides config)")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		color.Red("Configuration error: %v", err)
		return err
	}
	applyQueryFlags(cmd, cfg)

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question cannot be empty")
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "table", "csv", "json":
	default:
		return fmt.Errorf("unknown format: %q", format)
	}

	ctx := cmd.Context()
	log := slog.Default()

	db, err := executor.Open(cfg.DBPath, cfg.QueryTimeout(), log)
	if err != nil {
		color.Red("Cannot open database: %v", err)
		return err
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		color.Red("Database unreachable: %v", err)
		return err
	}

	docs, err := schemadoc.EnsureFresh(ctx, cfg.DBPath, cfg.SchemaDocsPath, schemadoc.DefaultOptions())
	if err != nil {
		color.Red("Schema documentation failed: %v", err)
		return err
	}
	hints := schemadoc.LoadHints(cfg.PromptHintsPath)

	client, err := provider.New(cfg.Provider, "")
	if err != nil {
		color.Red("Provider setup failed: %v", err)
		return err
	}

	ctxMap := fetchContexts(ctx, client, log)

	sqlModel, _ := cmd.Flags().GetString("sql-model")
	judgeModel, _ := cmd.Flags().GetString("judge-model")
	if sqlModel == "" {
		sqlModel = cfg.SQLModel
	}
	if judgeModel == "" {
		judgeModel = cfg.JudgeModel
	}

	sqlCands, err := models.Candidates(cfg.Provider, models.Tier(cfg.SQLTier), sqlModel, ctxMap, cfg.MinContextTokens)
	if err != nil {
		color.Red("No usable SQL-writer models: %v", err)
		return err
	}
	judgeCands, err := models.Candidates(cfg.Provider, models.Tier(cfg.JudgeTier), judgeModel, ctxMap, cfg.MinContextTokens)
	if err != nil {
		color.Red("No usable judge models: %v", err)
		return err
	}

	policy := models.Policy(cfg.CyclePolicy)
	sqlSchedule, err := models.Schedule(sqlCands, cfg.MaxRetries, policy)
	if err != nil {
		return err
	}
	judgeSchedule, err := models.Schedule(judgeCands, cfg.MaxRetries, policy)
	if err != nil {
		return err
	}

	builder, err := prompt.NewBuilder(prompt.Config{
		Question:       question,
		SchemaDocs:     docs,
		PromptHints:    hints,
		Profile:        prompt.FilterProfile(cfg.FilterProfile),
		HistoryWindow:  cfg.HistoryWindow,
		ScoreThreshold: cfg.JudgeScoreThreshold,
	})
	if err != nil {
		return err
	}

	sink, err := output.NewSink(cfg.OutputDir)
	if err != nil {
		return err
	}

	session, err := loop.NewSession(loop.Config{
		Question:             question,
		MaxRetries:           cfg.MaxRetries,
		ScoreThreshold:       cfg.JudgeScoreThreshold,
		JudgeRetries:         cfg.JudgeCallRetries,
		MinRows:              cfg.MinRows,
		ContextTokens:        judgeContextTokens(cfg, ctxMap, judgeCands),
		WriterTemperature:    cfg.WriterTemperature,
		JudgeTemperature:     cfg.JudgeTemperature,
		MaxTokens:            cfg.MaxTokens,
		KeepUnrequestedLimit: cfg.KeepUnrequestedLimit,
		MalformedDir:         filepath.Join(cfg.LogsDir, "judge_malformed"),
	}, loop.Deps{
		Builder:       builder,
		Gateway:       provider.NewGateway(client, provider.DefaultRetryConfig(), log),
		DB:            db,
		SQLSchedule:   sqlSchedule,
		JudgeSchedule: judgeSchedule,
		Sink:          sink,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	out := session.Run(ctx)
	return reportOutcome(out, session, sink, format)
}

func applyQueryFlags(cmd *cobra.Command, cfg *config.Config) {
	if n, _ := cmd.Flags().GetInt("max-retries"); n > 0 {
		cfg.MaxRetries = n
	}
	if p, _ := cmd.Flags().GetString("policy"); p != "" {
		cfg.CyclePolicy = p
	}
	if p, _ := cmd.Flags().GetString("profile"); p != "" {
		cfg.FilterProfile = p
	}
	if n, _ := cmd.Flags().GetInt("min-rows"); n >= 0 {
		cfg.MinRows = n
	}
	if t, _ := cmd.Flags().GetString("tier"); t != "" {
		cfg.SQLTier = t
	}
	if t, _ := cmd.Flags().GetString("judge-tier"); t != "" {
		cfg.JudgeTier = t
	}
	if d, _ := cmd.Flags().GetString("output-dir"); d != "" {
		cfg.OutputDir = d
	}
}

// fetchContexts asks OpenAI-compatible backends for per-model context
// windows. Failure only disables context filtering and full-mode summaries,
// so it is logged and tolerated.
func fetchContexts(ctx context.Context, client provider.Client, log *slog.Logger) models.ContextMap {
	cc, ok := client.(*provider.OpenAICompatClient)
	if !ok {
		return nil
	}
	m, err := cc.FetchContextMap(ctx)
	if err != nil {
		log.Warn("could not fetch model context windows", "error", err)
		return nil
	}
	return models.ContextMap(m)
}

// judgeContextTokens picks the context budget for result summarization:
// an explicit config value wins, otherwise the smallest window among the
// judge candidates so every scheduled model can hold the summary.
func judgeContextTokens(cfg *config.Config, ctxMap models.ContextMap, judgeCands []string) int {
	if cfg.ContextTokens > 0 {
		return cfg.ContextTokens
	}
	minCtx := 0
	for _, m := range judgeCands {
		if c, ok := ctxMap[m]; ok && (minCtx == 0 || c < minCtx) {
			minCtx = c
		}
	}
	return minCtx
}

func reportOutcome(out *types.Outcome, session *loop.Session, sink *output.Sink, format string) error {
	defer printUsage(session.TotalUsage())

	switch out.Kind {
	case types.OutcomeAccepted:
		color.Green("Accepted on attempt %d (%d rows)", out.AttemptIndex, out.Rows.RowCount())
		fmt.Println()
		fmt.Println("SQL:")
		fmt.Println(out.SQL)
		fmt.Println()
		if path, err := sink.SaveFinal(session.RunID, out.Rows); err != nil {
			color.Yellow("Could not save final CSV: %v", err)
		} else {
			color.Cyan("Saved: %s", path)
		}
		return renderRows(out.Rows, format)

	case types.OutcomeExhausted:
		color.Yellow("Retry budget exhausted after %d attempts", len(out.Attempts))
		if best := out.BestAttempt(); best != nil && best.Result != nil {
			color.Yellow("Best attempt: #%d, score %.2f, %d rows (per-attempt CSVs are in the output directory)",
				best.N, best.Verdict.Score, best.Result.RowCount())
			fmt.Println("SQL:")
			fmt.Println(best.SQL)
		}
		return fmt.Errorf("no accepted result after %d attempts", len(out.Attempts))

	default:
		color.Red("Aborted: %v", out.Err)
		return out.Err
	}
}

func renderRows(rs *types.RowSet, format string) error {
	switch format {
	case "csv":
		return output.WriteCSV(os.Stdout, rs)
	case "json":
		return output.WriteJSON(os.Stdout, rs)
	default:
		return output.RenderTable(os.Stdout, rs, 50)
	}
}

func printUsage(u types.Usage) {
	fmt.Fprintf(os.Stderr, "tokens: %d in, %d out\n", u.InputTokens, u.OutputTokens)
}
