package schemadoc

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chem.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE assays (assay_id INTEGER PRIMARY KEY, description TEXT NOT NULL, confidence_score INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO assays VALUES (1, 'binding assay', 9), (2, 'functional' || char(10) || 'assay', 8)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE empty_lookup (code TEXT)`)
	require.NoError(t, err)
	return path
}

func TestGenerate(t *testing.T) {
	docs, err := Generate(context.Background(), seedDB(t), DefaultOptions())
	require.NoError(t, err)

	assert.Contains(t, docs, "## Table: assays")
	assert.Contains(t, docs, "- assay_id INTEGER NULL PK")
	assert.Contains(t, docs, "- description TEXT NOT NULL")
	assert.Contains(t, docs, "| binding assay |")
	// Newlines inside cells must be escaped so the markdown table survives.
	assert.Contains(t, docs, `functional\nassay`)
	assert.Contains(t, docs, "## Table: empty_lookup")
	assert.Contains(t, docs, "Sample rows: (none)")
}

func TestEnsureFreshRegeneratesStaleDocs(t *testing.T) {
	dbPath := seedDB(t)
	docsPath := filepath.Join(t.TempDir(), "doc", "schema.md")

	first, err := EnsureFresh(context.Background(), dbPath, docsPath, DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, first, "## Table: assays")

	// Fresh cache is reused verbatim.
	require.NoError(t, os.WriteFile(docsPath, []byte("cached"), 0644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(docsPath, future, future))
	second, err := EnsureFresh(context.Background(), dbPath, docsPath, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "cached", second)

	// Stale cache is regenerated.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(docsPath, past, past))
	require.NoError(t, os.Chtimes(dbPath, time.Now(), time.Now()))
	third, err := EnsureFresh(context.Background(), dbPath, docsPath, DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, third, "## Table: assays")
}

func TestTruncateCell(t *testing.T) {
	assert.Equal(t, "NULL", TruncateCell(nil, 10))
	assert.Equal(t, "short", TruncateCell("short", 10))
	long := strings.Repeat("x", 20)
	got := TruncateCell(long, 10)
	assert.Len(t, got, 10)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestLoadHintsMissingFile(t *testing.T) {
	assert.Equal(t, "", LoadHints(filepath.Join(t.TempDir(), "absent.md")))
	assert.Equal(t, "", LoadHints(""))
}
