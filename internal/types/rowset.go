package types

import "fmt"

// RowSet holds the materialized result of one SQL execution. Rows are kept
// as strings because every downstream consumer (summaries, CSV output,
// judge prompts) renders them as text anyway. A RowSet with zero rows is a
// valid, successful result and must never be conflated with an execution
// error - an empty result is itself diagnostic.
type RowSet struct {
	Columns []string
	Rows    [][]string
}

// RowCount returns the number of data rows.
func (r *RowSet) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ErrorClass categorizes SQL execution failures. The refinement loop treats
// all classes uniformly (feed the error text back into the next prompt),
// but the class is preserved on the Attempt record for diagnosability.
type ErrorClass string

const (
	ErrClassSyntax    ErrorClass = "syntax"
	ErrClassReference ErrorClass = "reference"
	ErrClassTimeout   ErrorClass = "timeout"
	ErrClassRuntime   ErrorClass = "runtime"
)

// ExecError is a classified SQL execution failure.
type ExecError struct {
	Class   ErrorClass
	Message string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("sql execution failed (%s): %s", e.Class, e.Message)
}
