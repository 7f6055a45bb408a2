package types

// OutcomeKind is the terminal state of a query session.
type OutcomeKind string

const (
	// OutcomeAccepted means the judge accepted an attempt and every gate
	// (score threshold, min-rows) passed.
	OutcomeAccepted OutcomeKind = "accepted"

	// OutcomeExhausted means the retry budget ran out without acceptance.
	// The full attempt history is returned so callers can surface the
	// best-scoring rejected attempt as a best-effort result.
	OutcomeExhausted OutcomeKind = "exhausted"

	// OutcomeFatal means an unrecoverable provider or configuration error
	// aborted the session before the budget was spent.
	OutcomeFatal OutcomeKind = "fatal"
)

// Outcome is the entire external contract of the refinement loop.
type Outcome struct {
	Kind     OutcomeKind
	Attempts []*Attempt

	// Set when Kind == OutcomeAccepted.
	SQL          string
	Rows         *RowSet
	AttemptIndex int

	// Set when Kind == OutcomeFatal.
	Err error
}

// BestAttempt returns the judged attempt with the highest score, or nil.
// Synthetic reject verdicts (execution failures) score zero by construction
// so a judged attempt always wins over a failed one.
func (o *Outcome) BestAttempt() *Attempt {
	var best *Attempt
	for _, a := range o.Attempts {
		if a.Verdict == nil {
			continue
		}
		if best == nil || a.Verdict.Score > best.Verdict.Score {
			best = a
		}
	}
	return best
}
