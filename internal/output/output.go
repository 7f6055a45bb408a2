// Package output renders and persists query results. Intermediate results
// from every attempt are saved so a rejected-but-useful row set survives
// the session; the accepted result is additionally written under a stable
// name.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chemquery/chemquery/internal/types"
)

// Sink writes per-attempt CSV files into a directory.
type Sink struct {
	dir string
}

// NewSink creates the output directory if needed.
func NewSink(dir string) (*Sink, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir %s: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

// SaveAttempt writes one attempt's rows as <runID>_iter<n>.csv.
func (s *Sink) SaveAttempt(runID string, n int, rs *types.RowSet) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s_iter%d.csv", runID, n))
	return path, writeCSVFile(path, rs)
}

// SaveFinal writes the accepted result as <runID>_final.csv.
func (s *Sink) SaveFinal(runID string, rs *types.RowSet) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s_final.csv", runID))
	return path, writeCSVFile(path, rs)
}

func writeCSVFile(path string, rs *types.RowSet) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := WriteCSV(f, rs); err != nil {
		return err
	}
	return f.Close()
}

// WriteCSV streams the row set as CSV with a header row.
func WriteCSV(w io.Writer, rs *types.RowSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rs.Columns); err != nil {
		return err
	}
	for _, row := range rs.Rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON streams the row set as an array of column-keyed objects.
func WriteJSON(w io.Writer, rs *types.RowSet) error {
	records := make([]map[string]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		rec := make(map[string]string, len(rs.Columns))
		for i, col := range rs.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// RenderTable writes an aligned text table, capped at maxRows data rows
// (0 means all). Overflow is noted rather than silently dropped.
func RenderTable(w io.Writer, rs *types.RowSet, maxRows int) error {
	widths := make([]int, len(rs.Columns))
	for i, col := range rs.Columns {
		widths[i] = len(col)
	}
	rows := rs.Rows
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeRow := func(cells []string) error {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		_, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
		return err
	}

	if err := writeRow(rs.Columns); err != nil {
		return err
	}
	sep := make([]string, len(widths))
	for i, wd := range widths {
		sep[i] = strings.Repeat("-", wd)
	}
	if err := writeRow(sep); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writeRow(row); err != nil {
			return err
		}
	}
	if maxRows > 0 && len(rs.Rows) > maxRows {
		if _, err := fmt.Fprintf(w, "... %d more rows\n", len(rs.Rows)-maxRows); err != nil {
			return err
		}
	}
	return nil
}
