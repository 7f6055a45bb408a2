package types

import "time"

// Decision is the judge's explicit accept/reject signal. It is authoritative
// independently of the score: a high score with an explicit reject still
// counts as reject, and the loop never infers the decision from the score.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Verdict is a parsed judge response.
type Verdict struct {
	Score     float64  `json:"score"`
	Decision  Decision `json:"decision"`
	Rationale string   `json:"analysis"`

	// Synthetic marks verdicts the loop fabricated for attempts that never
	// reached the judge (SQL generation or execution failures). They keep
	// the history uniform for prompt rendering.
	Synthetic bool `json:"-"`
}

// SummaryMode records whether the judge saw the full row set or a sample.
type SummaryMode string

const (
	SummaryFull   SummaryMode = "full"
	SummarySample SummaryMode = "sample"
)

// ResultSummary is the representation of a RowSet handed to the judge.
// Text is the rendered block embedded into the judge prompt; the structured
// fields survive on the Attempt record.
type ResultSummary struct {
	Mode       SummaryMode
	RowCount   int
	Columns    []string
	SampleRows int
	StrataCols []string
	Text       string
}

// Usage counts tokens for a single model call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Attempt is one full iteration of the refinement loop: prompt, SQL,
// execution, judgment. Attempts are immutable once judged; the session only
// appends new ones, preserving history integrity for prompt context.
type Attempt struct {
	// N is the 1-based iteration index.
	N int

	SQLModel    string
	JudgeModel  string
	PromptModel string

	UserPrompt string
	SQL        string

	Result    *RowSet
	ExecError *ExecError
	Summary   *ResultSummary

	JudgeText string
	Verdict   *Verdict

	// MinRowsGate is set when the judge accepted but the result fell below
	// the session row floor. The verdict is preserved exactly as issued;
	// the gate only blocks acceptance.
	MinRowsGate string

	// Per-role token usage for this attempt.
	PromptWriterUsage Usage
	SQLWriterUsage    Usage
	JudgeUsage        Usage

	StartedAt time.Time
	Duration  time.Duration
}

// Failed reports whether this attempt never produced a judged result set.
func (a *Attempt) Failed() bool {
	return a.ExecError != nil || a.SQL == ""
}

// Accepted reports whether the judge accepted this attempt with a score at
// or above threshold. The min-rows gate is applied separately by the loop.
func (a *Attempt) Accepted(threshold float64) bool {
	return a.Verdict != nil &&
		a.Verdict.Decision == DecisionAccept &&
		a.Verdict.Score >= threshold
}
