package summary

import (
	"fmt"
	"strings"
	"testing"

	"github.com/chemquery/chemquery/internal/types"
)

func makeRowSet(n int) *types.RowSet {
	rs := &types.RowSet{Columns: []string{"molregno", "pref_name", "publication_year"}}
	for i := 0; i < n; i++ {
		rs.Rows = append(rs.Rows, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("compound-%d", i+1),
			fmt.Sprintf("%d", 2000+(i%20)),
		})
	}
	return rs
}

func TestSummarizeExecError(t *testing.T) {
	s := Summarize(nil, &types.ExecError{Class: types.ErrClassReference, Message: "no such table: proteins"}, Budget{})
	if !strings.Contains(s.Text, "ERROR: no such table: proteins") {
		t.Errorf("error summary must carry the raw error text, got %q", s.Text)
	}
}

func TestSummarizeZeroRows(t *testing.T) {
	rs := &types.RowSet{Columns: []string{"a", "b"}}
	s := Summarize(rs, nil, Budget{ContextTokens: 200000, MinRows: 1})

	if !strings.Contains(s.Text, "row_count: 0") {
		t.Errorf("zero rows must be stated verbatim, got %q", s.Text)
	}
	if strings.Contains(s.Text, "ERROR") {
		t.Errorf("zero rows is not an error, got %q", s.Text)
	}
	if !strings.Contains(s.Text, "below min_rows hint (1)") {
		t.Errorf("min_rows warning missing, got %q", s.Text)
	}
}

func TestSummarizeSmallResultIsFull(t *testing.T) {
	rs := makeRowSet(5)
	s := Summarize(rs, nil, Budget{ContextTokens: 200000, BaseTokens: 1000})

	if s.Mode != types.SummaryFull {
		t.Fatalf("small result should use full mode, got %s", s.Mode)
	}
	if !strings.Contains(s.Text, "res_mode: full") {
		t.Errorf("mode line missing: %q", s.Text)
	}
	if !strings.Contains(s.Text, "compound-5") {
		t.Errorf("full mode must include every row: %q", s.Text)
	}
}

func TestSummarizeLargeResultIsSampled(t *testing.T) {
	rs := makeRowSet(50000)
	s := Summarize(rs, nil, Budget{ContextTokens: 8000, BaseTokens: 2000})

	if s.Mode != types.SummarySample {
		t.Fatalf("oversized result should use sample mode, got %s", s.Mode)
	}
	if !strings.Contains(s.Text, "row_count: 50000") {
		t.Errorf("true row count must be disclosed: missing from summary")
	}
	if !strings.Contains(s.Text, "res_mode: sample") {
		t.Errorf("mode line missing")
	}
	if s.SampleRows == 0 || s.SampleRows >= 50000 {
		t.Errorf("sample should be a strict subset, got %d rows", s.SampleRows)
	}
	if !strings.Contains(s.Text, "sample_note:") {
		t.Errorf("sampling caveats missing")
	}
}

func TestSummarizeUnknownContextForcesSample(t *testing.T) {
	rs := makeRowSet(5)
	s := Summarize(rs, nil, Budget{})
	if s.Mode != types.SummarySample {
		t.Errorf("unknown context window must force sample mode, got %s", s.Mode)
	}
}

func TestSummarizeStrataDetected(t *testing.T) {
	rs := makeRowSet(50000)
	s := Summarize(rs, nil, Budget{ContextTokens: 8000, BaseTokens: 2000})

	found := false
	for _, c := range s.StrataCols {
		if c == "publication_year" {
			found = true
		}
	}
	if !found {
		t.Errorf("publication_year should be picked as a stratum, got %v", s.StrataCols)
	}
}

func TestChooseStrata(t *testing.T) {
	rs := &types.RowSet{Columns: []string{"x", "protein_class", "year"}}
	strata := ChooseStrata(rs)
	if len(strata) != 2 || strata[0] != "year" || strata[1] != "protein_class" {
		t.Errorf("got %v, want [year protein_class]", strata)
	}

	none := ChooseStrata(&types.RowSet{Columns: []string{"a", "b"}})
	if len(none) != 0 {
		t.Errorf("expected no strata, got %v", none)
	}
}

func TestEvenlySpaced(t *testing.T) {
	tests := []struct {
		count, max int
		wantLen    int
	}{
		{10, 3, 3},
		{3, 10, 3},
		{5, 1, 1},
		{0, 3, 0},
	}
	for _, tt := range tests {
		got := evenlySpaced(tt.count, tt.max)
		if len(got) != tt.wantLen {
			t.Errorf("evenlySpaced(%d,%d) len=%d, want %d", tt.count, tt.max, len(got), tt.wantLen)
		}
		for i := 1; i < len(got); i++ {
			if got[i] <= got[i-1] {
				t.Errorf("evenlySpaced(%d,%d) not strictly increasing: %v", tt.count, tt.max, got)
			}
		}
	}
}

func TestPlainSampleHeadMiddleTail(t *testing.T) {
	rs := makeRowSet(100)
	samples := plainSample(rs, smallSampleRows, defaultCellLen)

	if len(samples) == 0 || len(samples) > smallSampleRows {
		t.Fatalf("got %d samples", len(samples))
	}
	if !strings.HasPrefix(samples[0].position, "head") {
		t.Errorf("first sample should be head, got %s", samples[0].position)
	}
	last := samples[len(samples)-1]
	if !strings.HasPrefix(last.position, "tail") {
		t.Errorf("last sample should be tail, got %s", last.position)
	}
}

func TestStratifiedSampleCoversGroups(t *testing.T) {
	rs := &types.RowSet{Columns: []string{"id", "publication_year"}}
	for i := 0; i < 300; i++ {
		year := 2000 + i%3
		rs.Rows = append(rs.Rows, []string{fmt.Sprintf("%d", i), fmt.Sprintf("%d", year)})
	}

	samples := stratifiedSample(rs, []string{"publication_year"}, 30, defaultCellLen)
	if len(samples) == 0 || len(samples) > 31 {
		t.Fatalf("got %d samples", len(samples))
	}

	years := map[string]bool{}
	for _, s := range samples {
		years[s.cells[1]] = true
	}
	if len(years) != 3 {
		t.Errorf("every year stratum should be represented, got %v", years)
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Error("empty text costs nothing")
	}
	if EstimateTokens("ab") != 1 {
		t.Error("short text rounds up to one token")
	}
	if EstimateTokens(strings.Repeat("x", 400)) != 100 {
		t.Error("chars/4 estimate")
	}
}

func TestTokensForCharsMatchesStringEstimate(t *testing.T) {
	for _, n := range []int{0, 1, 3, 4, 5, 239, 4096} {
		want := EstimateTokens(strings.Repeat("x", n))
		if got := tokensForChars(n); got != want {
			t.Errorf("tokensForChars(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestEstimateFullTokensNeedsNoMaterialization(t *testing.T) {
	rs := makeRowSet(50000)
	got := estimateFullTokens(rs)
	// Rough serialized size: 50k rows of ~30 chars each is well over a
	// thousand tokens and far below the raw byte count.
	if got < 1000 || got > 50000*30 {
		t.Errorf("estimateFullTokens = %d, outside plausible range", got)
	}
}
