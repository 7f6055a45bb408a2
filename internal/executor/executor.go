// Package executor runs generated SQL against the target SQLite database.
// The database is opened read-only: generated SQL is untrusted and the loop
// only ever needs SELECTs.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chemquery/chemquery/internal/types"
)

// Executor owns the session's database connection. One session, one
// connection, strictly sequential queries.
type Executor struct {
	db      *sql.DB
	timeout time.Duration
	log     *slog.Logger
}

// Open opens the SQLite database read-only.
func Open(path string, timeout time.Duration, log *slog.Logger) (*Executor, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// database/sql would otherwise open extra connections; the session
	// model is one connection, sequential queries.
	db.SetMaxOpenConns(1)

	return &Executor{db: db, timeout: timeout, log: log}, nil
}

// Close releases the connection.
func (e *Executor) Close() error {
	return e.db.Close()
}

// Ping verifies the database is reachable before the first attempt.
func (e *Executor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Execute runs one SQL statement under the configured timeout. It returns
// either a RowSet (possibly empty - zero rows is a valid result) or a
// classified *types.ExecError.
func (e *Executor) Execute(ctx context.Context, query string) (*types.RowSet, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	e.log.Info("executing query", "timeout", e.timeout)

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, e.classify(ctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, e.classify(ctx, err)
	}

	rs := &types.RowSet{Columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, e.classify(ctx, err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = renderCell(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, e.classify(ctx, err)
	}

	e.log.Info("query completed", "rows", rs.RowCount(), "duration", time.Since(start))
	return rs, nil
}

// renderCell converts a scanned value to its text form. NULL renders as the
// literal "NULL" so summaries and CSV output are unambiguous.
func renderCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// classify maps a driver error to the executor taxonomy.
func (e *Executor) classify(ctx context.Context, err error) *types.ExecError {
	msg := err.Error()

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(msg), "interrupted") {
		return &types.ExecError{
			Class:   types.ErrClassTimeout,
			Message: fmt.Sprintf("query timed out after %s", e.timeout),
		}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "syntax error") || strings.Contains(lower, "incomplete input"):
		return &types.ExecError{Class: types.ErrClassSyntax, Message: msg}
	case strings.Contains(lower, "no such table") || strings.Contains(lower, "no such column") ||
		strings.Contains(lower, "no such function") || strings.Contains(lower, "ambiguous column"):
		return &types.ExecError{Class: types.ErrClassReference, Message: msg}
	default:
		return &types.ExecError{Class: types.ErrClassRuntime, Message: msg}
	}
}
