// Package prompt assembles the three prompts driving each attempt: the
// prompt-writer instruction, the SQL-writer instruction, and the judge
// evaluation. Assembly is pure text: given the same session state the
// builder renders byte-identical prompts.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/chemquery/chemquery/internal/types"
)

// FilterProfile names a preset of implicit query constraints injected into
// the prompt-writer prompt as policy text, never into SQL directly.
type FilterProfile string

const (
	ProfileNone    FilterProfile = "none"
	ProfileStrict  FilterProfile = "strict"
	ProfileRelaxed FilterProfile = "relaxed"
)

// IsValid checks the profile value.
func (p FilterProfile) IsValid() bool {
	switch p {
	case ProfileNone, ProfileStrict, ProfileRelaxed:
		return true
	}
	return false
}

// Guidance returns the canned policy clause for this profile.
func (p FilterProfile) Guidance() string {
	switch p {
	case ProfileStrict:
		return strings.Join([]string{
			"- Use docs.doc_type = 'PUBLICATION' when applying publication-year filters.",
			"- Use assays.confidence_score = 9.",
			"- Use target_dictionary.target_type = 'SINGLE PROTEIN'.",
			"- Do NOT add extra filters unless explicitly requested (no DOI-not-null, no unit restrictions, no relation restrictions).",
			"- If units are not requested, include all IC50 units (do not force nM).",
		}, "\n")
	case ProfileRelaxed:
		return strings.Join([]string{
			"- Do NOT require docs.doc_type or DOI unless explicitly requested; only use year filters.",
			"- Prefer assays.confidence_score >= 8; if unavailable, skip the confidence filter.",
			"- Do NOT restrict target_type unless explicitly requested.",
			"- Do NOT add extra filters unless explicitly requested (no unit restrictions, no relation restrictions).",
		}, "\n")
	default:
		return ""
	}
}

// Builder renders prompts for one session. The system prompt is assembled
// once and hash-guarded: provider-side prompt caching assumes it never
// changes mid-run, so any drift is a hard failure.
type Builder struct {
	question       string
	profile        FilterProfile
	historyWindow  int
	scoreThreshold float64

	systemPrompt string
	systemHash   string
}

// Config holds builder inputs.
type Config struct {
	Question       string
	SchemaDocs     string
	PromptHints    string
	Profile        FilterProfile
	HistoryWindow  int
	ScoreThreshold float64
}

// NewBuilder assembles the system prompt and freezes its hash.
func NewBuilder(cfg Config) (*Builder, error) {
	if !cfg.Profile.IsValid() {
		return nil, fmt.Errorf("invalid filter profile: %q", cfg.Profile)
	}
	if cfg.HistoryWindow < 0 {
		return nil, fmt.Errorf("history window cannot be negative: %d", cfg.HistoryWindow)
	}

	hintsBlock := ""
	if strings.TrimSpace(cfg.PromptHints) != "" {
		hintsBlock = fmt.Sprintf("\n<PROMPT_HINTS>\n%s\n</PROMPT_HINTS>\n", cfg.PromptHints)
	}

	system := fmt.Sprintf(`<SP>
<ABOUT>
You will be used in different roles. Follow the task instructions in the user message under <TASK>.
</ABOUT>

<DATABASE_SCHEMA_DOCS>
%s
</DATABASE_SCHEMA_DOCS>
%s</SP>`, cfg.SchemaDocs, hintsBlock)

	sum := sha256.Sum256([]byte(system))

	return &Builder{
		question:       strings.TrimSpace(cfg.Question),
		profile:        cfg.Profile,
		historyWindow:  cfg.HistoryWindow,
		scoreThreshold: cfg.ScoreThreshold,
		systemPrompt:   system,
		systemHash:     hex.EncodeToString(sum[:]),
	}, nil
}

// SystemPrompt returns the frozen system prompt.
func (b *Builder) SystemPrompt() string { return b.systemPrompt }

// SystemHash returns the SHA-256 of the system prompt, logged at startup so
// operators can verify caching behavior across runs.
func (b *Builder) SystemHash() string { return b.systemHash }

// verifySystemPrompt re-hashes before each render. Caching assumptions are
// violated if anything mutated the prompt mid-run.
func (b *Builder) verifySystemPrompt() error {
	sum := sha256.Sum256([]byte(b.systemPrompt))
	if hex.EncodeToString(sum[:]) != b.systemHash {
		return fmt.Errorf("system prompt changed during run; caching assumptions violated")
	}
	return nil
}

// window returns the most recent historyWindow attempts.
func (b *Builder) window(attempts []*types.Attempt) []*types.Attempt {
	if b.historyWindow <= 0 || len(attempts) <= b.historyWindow {
		return attempts
	}
	return attempts[len(attempts)-b.historyWindow:]
}

// historyBlocks renders the rolling attempt history as tagged blocks. Each
// attempt contributes its prompt, SQL, result summary and judge text - not
// raw row data - to keep token cost bounded.
func (b *Builder) historyBlocks(attempts []*types.Attempt) string {
	if len(attempts) == 0 {
		return "<HISTORY/>\n"
	}

	var blocks []string
	for _, it := range attempts {
		resBody := ""
		if it.Summary != nil {
			resBody = it.Summary.Text
		} else if it.ExecError != nil {
			resBody = "ERROR: " + it.ExecError.Message
		}
		blocks = append(blocks, fmt.Sprintf(
			"<ITERATION %d>\n<UP_%d>\n%s\n</UP_%d>\n<SQL_%d>\n%s\n</SQL_%d>\n<RES_%d>\n%s\n</RES_%d>\n<J_%d>\n%s\n</J_%d>\n</ITERATION %d>",
			it.N, it.N, it.UserPrompt, it.N, it.N, it.SQL, it.N, it.N, resBody, it.N, it.N, it.JudgeText, it.N, it.N))
	}

	return fmt.Sprintf("<HISTORY from=\"%d\" to=\"%d\">\n%s\n</HISTORY>",
		attempts[0].N, attempts[len(attempts)-1].N, strings.Join(blocks, "\n"))
}

// PromptWriter renders the prompt-writer instruction for iteration n.
func (b *Builder) PromptWriter(attempts []*types.Attempt, n int) (string, error) {
	if err := b.verifySystemPrompt(); err != nil {
		return "", err
	}

	task := fmt.Sprintf(`<TASK>
You are a prompt-writer that crafts a single improved user prompt UP_%d for a Text-to-SQL model.

Rules:
- Output ONLY the text of UP_%d (no tags, no markdown, no bullets).
- UP must be explicit about:
  - target definitions (e.g., target types, organism, protein family constraints)
  - required output columns
  - filters, units, and date ranges
  - whether results should be ranked and any top-N
- Follow FILTER_PROFILE guidance when provided.
- Use prior judge advice (J_k) to improve UP_%d.
</TASK>`, n, n, n)

	parts := []string{task, fmt.Sprintf("<UQ>\n%s\n</UQ>", b.question)}
	if guidance := b.profile.Guidance(); guidance != "" {
		parts = append(parts, fmt.Sprintf("<FILTER_PROFILE name=%q>\n%s\n</FILTER_PROFILE>", string(b.profile), guidance))
	}
	parts = append(parts, b.historyBlocks(b.window(attempts)))

	return strings.Join(parts, "\n"), nil
}

// SQLWriter renders the SQL-writer instruction for iteration n with the
// structured user prompt up.
func (b *Builder) SQLWriter(up string, attempts []*types.Attempt, n int) (string, error) {
	if err := b.verifySystemPrompt(); err != nil {
		return "", err
	}

	task := fmt.Sprintf(`<TASK>
You are a SQL-writer for SQLite.
Generate SQL_%d as a SINGLE SQLite SELECT query.

Rules:
- Output ONLY the SQL text (no tags, no markdown, no explanation).
- Use explicit JOIN clauses; avoid implicit joins.
- Do NOT add LIMIT clauses unless the user explicitly requests a row cap or top-N.
- If neither UQ nor UP explicitly requests a row cap/top-N, any LIMIT is incorrect.
- If the user asks for ranking/top-N, use ORDER BY ... DESC then LIMIT N.
- If you need multiple steps, use CTEs (WITH ...).
</TASK>`, n)

	parts := []string{
		task,
		fmt.Sprintf("<UQ>\n%s\n</UQ>", b.question),
		b.historyBlocks(b.window(attempts)),
		fmt.Sprintf("<UP_%d>\n%s\n</UP_%d>", n, up, n),
	}
	return strings.Join(parts, "\n"), nil
}

// Judge renders the judge instruction for iteration n.
func (b *Builder) Judge(up, sql, resSummary string, attempts []*types.Attempt, n int) (string, error) {
	if err := b.verifySystemPrompt(); err != nil {
		return "", err
	}

	task := fmt.Sprintf(`<TASK>
You are a strict judge evaluating whether RES_%d answers the user's question.

You MUST output a single JSON object on one line with keys:
- "analysis": string containing qualitative judgement + concrete improvement advice
- "score": float in [0,1]
- "decision": "YES" or "NO"

Constraints:
- If decision is YES then score MUST be >= %g
- If decision is NO then score MUST be < %g
- Output JSON ONLY (no markdown, no extra text, no code fences).

IMPORTANT:
- RES_%d may be a summary with samples only, or it may include full rows.
- The RES_%d block will include a line 'res_mode: sample' or 'res_mode: full'.
- Do NOT assume missing rows are absent if 'res_mode: sample'.
- When 'res_mode: sample', the full result exists locally but cannot fit in context; a subsample is shown by design.
- When 'res_mode: sample', focus on correctness and completeness of the query intent based on the sample and schema/SQL.
- Sample rows may truncate long fields for context; do NOT penalize truncation in the sample.
- If 'sample_strata' is provided, samples are stratified by those columns; do NOT penalize missing strata not shown.
- If SQL_%d includes a LIMIT but neither UQ nor UP explicitly requests a row cap/top-N, decision MUST be NO and score MUST be < %g.

Do NOT write SQL.
</TASK>`, n, b.scoreThreshold, b.scoreThreshold, n, n, n, b.scoreThreshold)

	parts := []string{
		task,
		fmt.Sprintf("<UQ>\n%s\n</UQ>", b.question),
		b.historyBlocks(b.window(attempts)),
		fmt.Sprintf("<UP_%d>\n%s\n</UP_%d>", n, up, n),
		fmt.Sprintf("<SQL_%d>\n%s\n</SQL_%d>", n, sql, n),
		fmt.Sprintf("<RES_%d>\n%s\n</RES_%d>", n, resSummary, n),
	}
	return strings.Join(parts, "\n"), nil
}

// JudgeBaseTokens estimates the judge prompt cost without the result block,
// for result summarization budgeting.
func (b *Builder) JudgeBaseTokens(up, sql string, attempts []*types.Attempt, n int) (int, error) {
	base, err := b.Judge(up, sql, "", attempts, n)
	if err != nil {
		return 0, err
	}
	return (len(b.systemPrompt) + len(base)) / 4, nil
}
