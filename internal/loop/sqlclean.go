package loop

import (
	"regexp"
	"strings"
)

// SQL-writer models wrap output in markdown fences or prepend chatter
// despite instructions. Cleaning is mechanical and must never alter query
// semantics beyond the unrequested-LIMIT rule.

var (
	sqlFenceOpenRegex  = regexp.MustCompile("(?i)^```(?:sql|sqlite)?\\s*")
	sqlFenceCloseRegex = regexp.MustCompile("\\s*```\\s*$")

	// Signals in prose that the user actually asked for a row cap.
	rowCapRegexes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btop[\s-]*\d+\b`),
		regexp.MustCompile(`(?i)\bfirst\s+\d+\b`),
		regexp.MustCompile(`(?i)\blimit(?:ed)?\s+(?:to\s+)?\d+\b`),
		regexp.MustCompile(`(?i)\b\d+\s+(?:rows?|results?|records?|compounds?|targets?|entries)\b`),
		regexp.MustCompile(`(?i)\bat\s+most\s+\d+\b`),
		regexp.MustCompile(`(?i)\bup\s+to\s+\d+\b`),
	}

	trailingLimitRegex = regexp.MustCompile(`(?is)\s+limit\s+\d+(?:\s+offset\s+\d+)?\s*;?\s*$`)
)

// CleanSQL strips markdown fences and surrounding whitespace from raw
// SQL-writer output.
func CleanSQL(raw string) string {
	s := strings.TrimSpace(raw)
	s = sqlFenceOpenRegex.ReplaceAllString(s, "")
	s = sqlFenceCloseRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// RequestsRowCap reports whether the question or structured prompt
// explicitly asks for a bounded number of rows.
func RequestsRowCap(question, userPrompt string) bool {
	text := question + "\n" + userPrompt
	for _, re := range rowCapRegexes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// StripUnrequestedLimit removes a trailing LIMIT clause when neither the
// question nor the structured prompt asked for one. Models habitually cap
// results "to be safe", which silently truncates the answer; the judge also
// rejects such queries, but stripping here saves a full wasted iteration.
// Only a trailing LIMIT is touched: LIMIT inside CTEs or subqueries may be
// load-bearing.
func StripUnrequestedLimit(sql, question, userPrompt string) (string, bool) {
	if RequestsRowCap(question, userPrompt) {
		return sql, false
	}
	cleaned := trailingLimitRegex.ReplaceAllString(sql, "")
	if cleaned == sql {
		return sql, false
	}
	return strings.TrimSpace(cleaned), true
}
