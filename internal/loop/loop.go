// Package loop drives the iterative refinement session: build prompts,
// generate SQL, execute, summarize, judge, and either accept or refine
// until the retry budget runs out. The loop is the only component that
// mutates session state; every collaborator is a pure function or an
// injected interface.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chemquery/chemquery/internal/judge"
	"github.com/chemquery/chemquery/internal/models"
	"github.com/chemquery/chemquery/internal/prompt"
	"github.com/chemquery/chemquery/internal/provider"
	"github.com/chemquery/chemquery/internal/summary"
	"github.com/chemquery/chemquery/internal/types"
)

// Generator is the provider gateway surface the loop depends on.
type Generator interface {
	Generate(ctx context.Context, req provider.Request) (*provider.Response, error)
}

// Querier executes read-only SQL against the chemistry database.
type Querier interface {
	Execute(ctx context.Context, query string) (*types.RowSet, error)
}

// ResultSink persists intermediate row sets so rejected-but-useful results
// survive the session. Nil disables saving.
type ResultSink interface {
	SaveAttempt(runID string, n int, rs *types.RowSet) (string, error)
}

// Config are the session knobs.
type Config struct {
	Question       string
	MaxRetries     int
	ScoreThreshold float64
	JudgeRetries   int
	MinRows        int

	// ContextTokens is the judge model's context window, 0 if unknown.
	ContextTokens int

	// WriterTemperature applies to prompt-writer and SQL-writer calls,
	// JudgeTemperature to judge calls.
	WriterTemperature float64
	JudgeTemperature  float64
	MaxTokens         int

	// KeepUnrequestedLimit disables the trailing-LIMIT stripping heuristic.
	KeepUnrequestedLimit bool

	// MalformedDir receives raw judge output that failed to parse.
	MalformedDir string
}

func (c *Config) validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be in [0,1], got %g", c.ScoreThreshold)
	}
	if c.JudgeRetries < 1 {
		return fmt.Errorf("judge retries must be >= 1, got %d", c.JudgeRetries)
	}
	if c.MinRows < 0 {
		return fmt.Errorf("min rows cannot be negative: %d", c.MinRows)
	}
	return nil
}

// Deps are the injected collaborators.
type Deps struct {
	Builder       *prompt.Builder
	Gateway       Generator
	DB            Querier
	SQLSchedule   []string
	JudgeSchedule []string
	Sink          ResultSink
	Logger        *slog.Logger
}

// Session is one refinement run over a single question.
type Session struct {
	RunID string

	cfg  Config
	deps Deps
	log  *slog.Logger

	attempts []*types.Attempt
	usage    types.Usage
}

// NewSession validates configuration and allocates a run ID.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Builder == nil || deps.Gateway == nil || deps.DB == nil {
		return nil, errors.New("builder, gateway, and db are required")
	}
	if len(deps.SQLSchedule) == 0 || len(deps.JudgeSchedule) == 0 {
		return nil, errors.New("model schedules cannot be empty")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	runID := uuid.NewString()[:8]
	return &Session{
		RunID: runID,
		cfg:   cfg,
		deps:  deps,
		log:   log.With("run_id", runID),
	}, nil
}

// Attempts returns the recorded attempt history.
func (s *Session) Attempts() []*types.Attempt { return s.attempts }

// TotalUsage returns cumulative token usage across all roles and attempts.
func (s *Session) TotalUsage() types.Usage { return s.usage }

// Run executes the refinement loop to a terminal outcome. Fatal provider
// errors abort immediately; everything else consumes one retry and feeds
// the next attempt's history.
func (s *Session) Run(ctx context.Context) *types.Outcome {
	s.log.Info("session start",
		"question", s.cfg.Question,
		"max_retries", s.cfg.MaxRetries,
		"threshold", s.cfg.ScoreThreshold,
		"system_prompt_sha256", s.deps.Builder.SystemHash())

	var up string
	for i := 0; i < s.cfg.MaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return s.fatal(err)
		}

		at := &types.Attempt{
			N:          i + 1,
			SQLModel:   models.At(s.deps.SQLSchedule, i),
			JudgeModel: models.At(s.deps.JudgeSchedule, i),
			StartedAt:  time.Now(),
		}
		s.attempts = append(s.attempts, at)
		s.log.Info("attempt start", "n", at.N, "sql_model", at.SQLModel, "judge_model", at.JudgeModel)

		newUP, err := s.writePrompt(ctx, at, i)
		switch {
		case err == nil:
			up = newUP
		case provider.IsFatal(err):
			return s.fatal(err)
		case up == "":
			// No prior prompt to fall back to.
			return s.fatal(fmt.Errorf("prompt-writer failed on first attempt: %w", err))
		default:
			s.log.Warn("prompt-writer failed, reusing previous prompt", "n", at.N, "error", err)
		}
		at.UserPrompt = up

		if err := s.writeSQL(ctx, at, i); err != nil {
			if provider.IsFatal(err) {
				return s.fatal(err)
			}
			s.rejectSynthetic(at, fmt.Sprintf("SQL generation failed: %v", err))
			continue
		}

		if err := s.execute(ctx, at, i); err != nil {
			return s.fatal(err)
		}
		if at.ExecError != nil {
			s.rejectSynthetic(at, fmt.Sprintf("SQL execution failed (%s): %s", at.ExecError.Class, at.ExecError.Message))
			continue
		}

		if err := s.judgeAttempt(ctx, at, i); err != nil {
			return s.fatal(err)
		}
		at.Duration = time.Since(at.StartedAt)

		// Min-rows gate: acceptance with a suspiciously small result does
		// not end the session. The judge's verdict stays on the attempt as
		// issued; the gate is recorded alongside it and the loop refines so
		// the next attempt can widen filters.
		if at.Accepted(s.cfg.ScoreThreshold) && s.cfg.MinRows > 0 && at.Result.RowCount() < s.cfg.MinRows {
			at.MinRowsGate = fmt.Sprintf(
				"judge accepted but result has %d rows, below the required minimum of %d; widen filters or check joins",
				at.Result.RowCount(), s.cfg.MinRows)
			s.log.Warn("min-rows gate blocked accepted attempt",
				"n", at.N, "rows", at.Result.RowCount(), "min_rows", s.cfg.MinRows, "score", at.Verdict.Score)
			continue
		}

		if at.Accepted(s.cfg.ScoreThreshold) {
			s.log.Info("accepted", "n", at.N, "score", at.Verdict.Score, "rows", at.Result.RowCount())
			return &types.Outcome{
				Kind:         types.OutcomeAccepted,
				Attempts:     s.attempts,
				SQL:          at.SQL,
				Rows:         at.Result,
				AttemptIndex: at.N,
			}
		}
		s.log.Info("rejected", "n", at.N, "score", at.Verdict.Score, "synthetic", at.Verdict.Synthetic)
	}

	s.log.Warn("retry budget exhausted", "attempts", len(s.attempts))
	return &types.Outcome{Kind: types.OutcomeExhausted, Attempts: s.attempts}
}

func (s *Session) fatal(err error) *types.Outcome {
	s.log.Error("session aborted", "error", err)
	return &types.Outcome{Kind: types.OutcomeFatal, Attempts: s.attempts, Err: err}
}

// rejectSynthetic records a fabricated verdict for an attempt that never
// reached the judge, keeping the history uniform.
func (s *Session) rejectSynthetic(at *types.Attempt, rationale string) {
	v := judge.Reject(rationale)
	at.Verdict = v
	at.JudgeText = v.Rationale
	at.Duration = time.Since(at.StartedAt)
	s.log.Info("rejected", "n", at.N, "score", 0.0, "synthetic", true)
}

// writePrompt calls the prompt-writer with bounded retries, resolving the
// model through the judge schedule with the same offset rotation the judge
// uses. Empty output counts as a failed call, not a usable prompt.
func (s *Session) writePrompt(ctx context.Context, at *types.Attempt, i int) (string, error) {
	// History excludes the in-flight attempt.
	text, err := s.deps.Builder.PromptWriter(s.attempts[:i], at.N)
	if err != nil {
		return "", &provider.FatalError{Err: err}
	}

	var lastErr error
	for offset := 0; offset < s.cfg.JudgeRetries; offset++ {
		model := models.AtOffset(s.deps.JudgeSchedule, i, offset)
		resp, err := s.deps.Gateway.Generate(ctx, provider.Request{
			Role:        provider.RolePromptWriter,
			Model:       model,
			System:      s.deps.Builder.SystemPrompt(),
			Prompt:      text,
			Temperature: s.cfg.WriterTemperature,
			MaxTokens:   s.cfg.MaxTokens,
		})
		if err != nil {
			if provider.IsFatal(err) {
				return "", err
			}
			lastErr = err
			s.log.Warn("prompt-writer call failed", "n", at.N, "model", model, "offset", offset, "error", err)
			continue
		}
		at.PromptWriterUsage.Add(resp.Usage)
		s.usage.Add(resp.Usage)

		up := strings.TrimSpace(resp.Text)
		if up == "" {
			lastErr = errors.New("prompt-writer returned empty output")
			s.log.Warn("prompt-writer returned empty output", "n", at.N, "model", model, "offset", offset)
			continue
		}
		at.PromptModel = model
		return up, nil
	}
	return "", fmt.Errorf("prompt-writer produced no usable prompt after %d calls: %w", s.cfg.JudgeRetries, lastErr)
}

func (s *Session) writeSQL(ctx context.Context, at *types.Attempt, i int) error {
	text, err := s.deps.Builder.SQLWriter(at.UserPrompt, s.attempts[:i], at.N)
	if err != nil {
		return &provider.FatalError{Err: err}
	}
	resp, err := s.deps.Gateway.Generate(ctx, provider.Request{
		Role:        provider.RoleSQLWriter,
		Model:       at.SQLModel,
		System:      s.deps.Builder.SystemPrompt(),
		Prompt:      text,
		Temperature: s.cfg.WriterTemperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return err
	}
	at.SQLWriterUsage = resp.Usage
	s.usage.Add(resp.Usage)

	sqlText := CleanSQL(resp.Text)
	if !s.cfg.KeepUnrequestedLimit {
		if stripped, ok := StripUnrequestedLimit(sqlText, s.cfg.Question, at.UserPrompt); ok {
			s.log.Warn("stripped unrequested LIMIT clause", "n", at.N)
			sqlText = stripped
		}
	}
	if sqlText == "" {
		return errors.New("sql-writer returned empty output")
	}
	at.SQL = sqlText
	return nil
}

// execute runs the SQL and builds the judge-facing summary. Only internal
// invariant violations return an error; SQL failures are recorded on the
// attempt and fed back to the next iteration.
func (s *Session) execute(ctx context.Context, at *types.Attempt, i int) error {
	rs, err := s.deps.DB.Execute(ctx, at.SQL)
	if err != nil {
		var ee *types.ExecError
		if !errors.As(err, &ee) {
			return err
		}
		at.ExecError = ee
		at.Summary = summary.Summarize(nil, ee, summary.Budget{MinRows: s.cfg.MinRows})
		return nil
	}
	at.Result = rs

	if s.deps.Sink != nil {
		path, serr := s.deps.Sink.SaveAttempt(s.RunID, at.N, rs)
		if serr != nil {
			s.log.Warn("failed to save intermediate result", "n", at.N, "error", serr)
		} else {
			s.log.Debug("saved intermediate result", "n", at.N, "path", path)
		}
	}

	base, err := s.deps.Builder.JudgeBaseTokens(at.UserPrompt, at.SQL, s.attempts[:i], at.N)
	if err != nil {
		return err
	}
	at.Summary = summary.Summarize(rs, nil, summary.Budget{
		ContextTokens: s.cfg.ContextTokens,
		BaseTokens:    base,
		MinRows:       s.cfg.MinRows,
	})
	s.log.Info("result summarized",
		"n", at.N, "rows", rs.RowCount(), "mode", at.Summary.Mode, "sample_rows", at.Summary.SampleRows)
	return nil
}

// judgeAttempt calls the judge with bounded retries, rotating to the next
// model in the schedule on each malformed or transient response. Raw
// malformed output is saved for offline inspection. If every retry fails
// the attempt gets a synthetic reject rather than aborting the session.
func (s *Session) judgeAttempt(ctx context.Context, at *types.Attempt, i int) error {
	text, err := s.deps.Builder.Judge(at.UserPrompt, at.SQL, at.Summary.Text, s.attempts[:i], at.N)
	if err != nil {
		return err
	}

	var lastErr error
	for offset := 0; offset < s.cfg.JudgeRetries; offset++ {
		model := models.AtOffset(s.deps.JudgeSchedule, i, offset)
		resp, err := s.deps.Gateway.Generate(ctx, provider.Request{
			Role:        provider.RoleJudge,
			Model:       model,
			System:      s.deps.Builder.SystemPrompt(),
			Prompt:      text,
			Temperature: s.cfg.JudgeTemperature,
			MaxTokens:   s.cfg.MaxTokens,
		})
		if err != nil {
			if provider.IsFatal(err) {
				return err
			}
			lastErr = err
			s.log.Warn("judge call failed", "n", at.N, "model", model, "offset", offset, "error", err)
			continue
		}
		at.JudgeUsage.Add(resp.Usage)
		s.usage.Add(resp.Usage)
		at.JudgeModel = model

		verdict, perr := judge.Parse(resp.Text, s.cfg.ScoreThreshold)
		if perr != nil {
			lastErr = perr
			s.log.Warn("judge output malformed", "n", at.N, "model", model, "offset", offset, "error", perr)
			if s.cfg.MalformedDir != "" {
				if path, serr := judge.SaveMalformed(s.cfg.MalformedDir, s.RunID, at.N, offset, model, resp.Text); serr != nil {
					s.log.Warn("failed to save malformed judge output", "error", serr)
				} else {
					s.log.Debug("saved malformed judge output", "path", path)
				}
			}
			continue
		}
		at.JudgeText = resp.Text
		at.Verdict = verdict
		return nil
	}

	v := judge.Reject(fmt.Sprintf("judge produced no valid verdict after %d calls: %v", s.cfg.JudgeRetries, lastErr))
	at.Verdict = v
	at.JudgeText = v.Rationale
	return nil
}
