// Package judge parses judge model responses into verdicts. Judge output is
// free-form model text expected to contain a single JSON object; parsing is
// modeled as a fallible operation so the caller's retry policy can act on a
// uniform error channel instead of recovering panics deep in the loop.
package judge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/chemquery/chemquery/internal/types"
)

// ErrMalformed marks a judge response that could not be parsed into a
// verdict, or whose fields contradict each other. Never treated as
// acceptance; the caller retries with a rotated judge model.
var ErrMalformed = errors.New("malformed judge output")

// Pre-compiled patterns for stripping code fences from model output.
var (
	fenceOpenRegex  = regexp.MustCompile("(?mi)^```(?:json)?[ \t]*\n?")
	fenceCloseRegex = regexp.MustCompile("(?m)\n?```[ \t]*$")
)

// rawVerdict mirrors the JSON contract the judge prompt demands:
// {"analysis": "...", "score": 0.93, "decision": "YES"}
type rawVerdict struct {
	Analysis string   `json:"analysis"`
	Score    *float64 `json:"score"`
	Decision string   `json:"decision"`
}

// Parse extracts a verdict from judge response text. The threshold is used
// to enforce the contract that decision and score agree: YES below
// threshold or NO at-or-above threshold is malformed and must be retried,
// because the two fields are independently authoritative downstream.
func Parse(text string, threshold float64) (*types.Verdict, error) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformed)
	}

	cleaned = fenceOpenRegex.ReplaceAllString(cleaned, "")
	cleaned = fenceCloseRegex.ReplaceAllString(cleaned, "")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found (preview: %s)", ErrMalformed, preview(cleaned))
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v (preview: %s)", ErrMalformed, err, preview(cleaned))
	}

	var decision types.Decision
	switch strings.ToUpper(strings.TrimSpace(raw.Decision)) {
	case "YES":
		decision = types.DecisionAccept
	case "NO":
		decision = types.DecisionReject
	default:
		return nil, fmt.Errorf("%w: decision %q is neither YES nor NO", ErrMalformed, raw.Decision)
	}

	if raw.Score == nil {
		return nil, fmt.Errorf("%w: missing score", ErrMalformed)
	}
	score := *raw.Score
	if score < 0.0 || score > 1.0 {
		return nil, fmt.Errorf("%w: score %v outside [0,1]", ErrMalformed, score)
	}

	if decision == types.DecisionAccept && score < threshold {
		return nil, fmt.Errorf("%w: decision YES but score %.2f < threshold %.2f", ErrMalformed, score, threshold)
	}
	if decision == types.DecisionReject && score >= threshold {
		return nil, fmt.Errorf("%w: decision NO but score %.2f >= threshold %.2f", ErrMalformed, score, threshold)
	}

	return &types.Verdict{
		Score:     score,
		Decision:  decision,
		Rationale: raw.Analysis,
	}, nil
}

// Reject fabricates a synthetic reject verdict for attempts that never
// reached the judge, keeping the attempt history uniform.
func Reject(rationale string) *types.Verdict {
	return &types.Verdict{
		Score:     0.0,
		Decision:  types.DecisionReject,
		Rationale: rationale,
		Synthetic: true,
	}
}

var unsafeFilenameRegex = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SaveMalformed writes an unparsable judge response to disk for audit.
// Failures here are reported but never abort the attempt.
func SaveMalformed(dir, runID string, n, offset int, model, text string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create malformed-output dir: %w", err)
	}
	if runID == "" {
		runID = "run"
	}
	safeModel := strings.Trim(unsafeFilenameRegex.ReplaceAllString(model, "-"), "-")
	if safeModel == "" {
		safeModel = "unknown_model"
	}
	path := filepath.Join(dir, fmt.Sprintf("judge_malformed_%s_iter%d_offset%d_%s.txt", runID, n, offset, safeModel))
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("save malformed judge output: %w", err)
	}
	return path, nil
}

func preview(text string) string {
	flat := strings.ReplaceAll(text, "\n", " ")
	if len(flat) > 200 {
		flat = flat[:200]
	}
	return flat
}
