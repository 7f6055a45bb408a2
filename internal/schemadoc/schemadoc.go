// Package schemadoc generates the markdown schema document embedded into
// the SQL-writer system prompt: every table with its columns and a few
// sample rows, so the models see the data semantics, not just the DDL.
package schemadoc

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Options controls doc generation.
type Options struct {
	SampleRows int // sample rows per table (default 3)
	MaxCellLen int // cell truncation length (default 80)
}

// DefaultOptions returns the standard generation options.
func DefaultOptions() Options {
	return Options{SampleRows: 3, MaxCellLen: 80}
}

// Generate walks the database and renders the schema document.
func Generate(ctx context.Context, dbPath string, opts Options) (string, error) {
	if opts.SampleRows == 0 {
		opts.SampleRows = 3
	}
	if opts.MaxCellLen == 0 {
		opts.MaxCellLen = 80
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return "", fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	tables, err := listTables(ctx, db)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# SQLite schema (auto-generated)\n")
	fmt.Fprintf(&b, "Database: %s\n", dbPath)
	fmt.Fprintf(&b, "Tables: %d\n\n", len(tables))

	for _, table := range tables {
		fmt.Fprintf(&b, "## Table: %s\n", table)
		if err := writeColumns(ctx, db, &b, table); err != nil {
			fmt.Fprintf(&b, "ERROR: failed to read columns: %v\n\n", err)
			continue
		}
		if opts.SampleRows > 0 {
			writeSampleRows(ctx, db, &b, table, opts)
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}

// EnsureFresh returns the schema doc, regenerating it when the cached copy
// is missing or older than the database file.
func EnsureFresh(ctx context.Context, dbPath, docsPath string, opts Options) (string, error) {
	dbInfo, dbErr := os.Stat(dbPath)
	docInfo, docErr := os.Stat(docsPath)

	if dbErr != nil {
		// No database: fall back to the cached doc if one exists.
		if docErr == nil {
			data, err := os.ReadFile(docsPath)
			return string(data), err
		}
		return "", fmt.Errorf("database not found: %s", dbPath)
	}

	stale := docErr != nil || docInfo.ModTime().Before(dbInfo.ModTime())
	if !stale {
		data, err := os.ReadFile(docsPath)
		return string(data), err
	}

	docs, err := Generate(ctx, dbPath, opts)
	if err != nil {
		return "", err
	}
	if docsPath != "" {
		if err := os.MkdirAll(filepath.Dir(docsPath), 0755); err != nil {
			return "", fmt.Errorf("create docs directory: %w", err)
		}
		if err := os.WriteFile(docsPath, []byte(docs), 0644); err != nil {
			return "", fmt.Errorf("write schema docs: %w", err)
		}
	}
	return docs, nil
}

// LoadHints reads the prompt-hints document (full contents of small lookup
// tables). A missing file is not an error: hints are optional.
func LoadHints(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func writeColumns(ctx context.Context, db *sql.DB, b *strings.Builder, table string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return err
	}
	defer rows.Close()

	b.WriteString("Columns:\n")
	any := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		any = true

		parts := []string{name}
		if ctype != "" {
			parts = append(parts, ctype)
		}
		if notnull != 0 {
			parts = append(parts, "NOT NULL")
		} else {
			parts = append(parts, "NULL")
		}
		if pk != 0 {
			parts = append(parts, "PK")
		}
		fmt.Fprintf(b, "- %s\n", strings.Join(parts, " "))
	}
	if !any {
		b.WriteString("(none)\n")
	}
	return rows.Err()
}

func writeSampleRows(ctx context.Context, db *sql.DB, b *strings.Builder, table string, opts Options) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), opts.SampleRows))
	if err != nil {
		fmt.Fprintf(b, "\nSample rows ERROR: %v\n", err)
		return
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		fmt.Fprintf(b, "\nSample rows ERROR: %v\n", err)
		return
	}

	var rendered [][]string
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			fmt.Fprintf(b, "\nSample rows ERROR: %v\n", err)
			return
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = TruncateCell(v, opts.MaxCellLen)
		}
		rendered = append(rendered, row)
	}

	if len(rendered) == 0 {
		b.WriteString("\nSample rows: (none)\n")
		return
	}

	b.WriteString("\nSample rows:\n")
	fmt.Fprintf(b, "| %s |\n", strings.Join(cols, " | "))
	fmt.Fprintf(b, "|%s|\n", strings.Repeat("---|", len(cols)))
	for _, row := range rendered {
		fmt.Fprintf(b, "| %s |\n", strings.Join(row, " | "))
	}
}

// TruncateCell renders a value for table embedding: NULL spelled out,
// newlines escaped, long cells truncated with an ellipsis.
func TruncateCell(v any, maxLen int) string {
	var s string
	switch val := v.(type) {
	case nil:
		s = "NULL"
	case []byte:
		s = string(val)
	default:
		s = fmt.Sprintf("%v", val)
	}
	s = strings.ReplaceAll(s, "\n", "\\n")
	if maxLen > 3 && len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
