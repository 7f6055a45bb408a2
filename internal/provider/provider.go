// Package provider implements the uniform call surface over heterogeneous
// LLM backends. The refinement loop only sees the Gateway: role-tagged
// requests go in, text plus token usage comes out, and failures are either
// retried under an explicit policy or propagated - never swallowed.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chemquery/chemquery/internal/types"
)

// Role tags a request with the loop stage that issued it. Roles only affect
// logging and retry budgets; the transport is identical.
type Role string

const (
	RolePromptWriter Role = "prompt-writer"
	RoleSQLWriter    Role = "sql-writer"
	RoleJudge        Role = "judge"
)

// Request is one model call.
type Request struct {
	Role        Role
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response carries the model output and its token accounting.
type Response struct {
	Text  string
	Usage types.Usage
}

// Client is a single concrete backend (Anthropic SDK, OpenRouter HTTP, ...).
// Implementations classify their failures as TransientError or FatalError;
// anything else is treated as fatal by the Gateway.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// TransientError marks a failure worth retrying: rate limits, timeouts,
// 5xx responses, dropped connections.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient provider error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that must abort the session: bad credentials,
// unknown model, malformed request. Retrying cannot help and silently
// downgrading it to a reject would hide an operator problem.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal provider error: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retriable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err must abort the session.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Classify wraps a raw backend error as transient or fatal based on its
// text. HTTP-aware backends should classify from the status code instead
// and only fall back to this.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsFatal(err) {
		return err
	}
	if isRetriable(err) {
		return &TransientError{Err: err}
	}
	return &FatalError{Err: err}
}

// isRetriable determines if an error is transient. SDK errors are wrapped,
// so the error string is the common denominator across backends.
func isRetriable(err error) bool {
	errStr := err.Error()

	// Rate limits (429) are retriable
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}

	// Server errors (5xx) are retriable
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "overloaded") {
		return true
	}

	// Network/connection errors are retriable
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return true
	}

	// 4xx client errors (except rate limits) indicate bad requests that
	// won't succeed on retry.
	return false
}
