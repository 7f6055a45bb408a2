// Package summary turns a RowSet into the representation the judge sees
// within its context budget: the full rows when they fit, or a stratified
// sample with the true row count disclosed when they do not.
package summary

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chemquery/chemquery/internal/types"
)

// Budget describes the judge-side context constraints for one attempt.
type Budget struct {
	// ContextTokens is the judge model's context window (0 = unknown,
	// which forces sample mode with default sizing).
	ContextTokens int

	// BaseTokens is the estimated cost of the judge prompt without the
	// result block (system prompt, history, SQL, task text).
	BaseTokens int

	// MinRows is the session's min-rows hint; summaries below it carry a
	// warning line so the judge sees the shortfall.
	MinRows int
}

// Sampling tunables. The floor/cap bound how many rows a sample carries;
// cell truncation shrinks stepwise when the floor cannot be met otherwise.
const (
	contextHeadroom  = 0.9
	sampleShare      = 0.6
	minSampleRows    = 200
	maxSampleRows    = 1000
	defaultCellLen   = 60
	probeRows        = 200
	smallSampleRows  = 9
	headTailBoundary = 3
)

// EstimateTokens approximates the token cost of text as chars/4.
func EstimateTokens(text string) int {
	return tokensForChars(len(text))
}

func tokensForChars(chars int) int {
	if chars <= 0 {
		return 0
	}
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}

// estimateFullTokens approximates the serialized size of the whole RowSet
// from a probe of its first rows.
func estimateFullTokens(rs *types.RowSet) int {
	if rs.RowCount() == 0 {
		return 0
	}
	probe := rs.Rows
	if len(probe) > probeRows {
		probe = probe[:probeRows]
	}

	total := 0
	for _, row := range probe {
		for _, cell := range row {
			total += len(cell)
		}
		total += len(row) // separators
	}
	avg := float64(total) / float64(len(probe))

	header := 0
	for _, c := range rs.Columns {
		header += len(c) + 1
	}
	return tokensForChars(header + int((avg+1)*float64(rs.RowCount())))
}

// estimateRowTokens approximates the cost of one truncated sample row.
func estimateRowTokens(rs *types.RowSet, cellLen int) int {
	if rs.RowCount() == 0 {
		return 0
	}
	probe := rs.Rows
	if len(probe) > probeRows {
		probe = probe[:probeRows]
	}
	total := 0
	for _, row := range probe {
		for _, cell := range row {
			if len(cell) > cellLen {
				total += cellLen
			} else {
				total += len(cell)
			}
		}
		total += 20 // position label and punctuation
	}
	return tokensForChars(total / len(probe))
}

// chooseSampleParams picks how many rows to sample and how hard to truncate
// cells, given the available token budget. When the budget is too tight for
// the row floor at the default truncation, truncation shrinks stepwise.
func chooseSampleParams(rs *types.RowSet, availableTokens int) (rows, cellLen int) {
	if rs.RowCount() == 0 {
		return 0, defaultCellLen
	}

	cap := rs.RowCount()
	if cap > maxSampleRows {
		cap = maxSampleRows
	}
	if availableTokens <= 0 {
		return cap, defaultCellLen
	}

	budget := int(float64(availableTokens) * sampleShare)
	perRow := estimateRowTokens(rs, defaultCellLen)
	if perRow <= 0 {
		return cap, defaultCellLen
	}

	maxByBudget := budget / perRow
	if maxByBudget < 1 {
		maxByBudget = 1
	}

	target := maxByBudget
	if target > cap {
		target = cap
	}
	if target >= minSampleRows {
		return target, defaultCellLen
	}
	if rs.RowCount() < minSampleRows {
		return target, defaultCellLen
	}

	for _, altLen := range []int{50, 40, 30} {
		perRow = estimateRowTokens(rs, altLen)
		if perRow <= 0 {
			continue
		}
		if budget/perRow >= minSampleRows {
			return minSampleRows, altLen
		}
	}
	return target, defaultCellLen
}

// ChooseStrata picks stratification columns from the result: a publication
// year column, a protein/target class column, or both.
func ChooseStrata(rs *types.RowSet) []string {
	yearCandidates := []string{"publication_year", "year", "pub_year", "doc_year"}
	classCandidates := []string{
		"target_class", "target_classification", "protein_class",
		"protein_classification", "protein_class_name",
	}

	have := map[string]bool{}
	for _, c := range rs.Columns {
		have[c] = true
	}

	var strata []string
	for _, c := range yearCandidates {
		if have[c] {
			strata = append(strata, c)
			break
		}
	}
	for _, c := range classCandidates {
		if have[c] {
			strata = append(strata, c)
			break
		}
	}
	return strata
}

// Summarize builds the ResultSummary for one execution outcome. execErr set
// means the attempt failed; the summary then carries the raw error text so
// the next SQL-writer prompt can self-correct.
func Summarize(rs *types.RowSet, execErr *types.ExecError, budget Budget) *types.ResultSummary {
	if execErr != nil {
		return &types.ResultSummary{
			Mode: types.SummarySample,
			Text: "ERROR: " + execErr.Message,
		}
	}
	if rs == nil {
		return &types.ResultSummary{
			Mode: types.SummarySample,
			Text: "ERROR: no result",
		}
	}

	mode := types.SummarySample
	available := 0
	if budget.ContextTokens > 0 {
		available = int(float64(budget.ContextTokens)*contextHeadroom) - budget.BaseTokens
		if available < 0 {
			available = 0
		}
		if available > 0 && estimateFullTokens(rs) <= available {
			mode = types.SummaryFull
		}
	}

	s := &types.ResultSummary{
		Mode:     mode,
		RowCount: rs.RowCount(),
		Columns:  append([]string(nil), rs.Columns...),
	}

	var lines []string
	lines = append(lines, "OK")
	lines = append(lines, fmt.Sprintf("res_mode: %s", mode))
	lines = append(lines, fmt.Sprintf("row_count: %d", rs.RowCount()))
	if budget.MinRows > 0 && rs.RowCount() < budget.MinRows {
		lines = append(lines, fmt.Sprintf("warning: below min_rows hint (%d)", budget.MinRows))
	}
	lines = append(lines, fmt.Sprintf("columns: %v", rs.Columns))

	if mode == types.SummaryFull {
		if rs.RowCount() > 0 {
			lines = append(lines, "rows_csv:")
			lines = append(lines, strings.Join(rs.Columns, ","))
			for _, row := range rs.Rows {
				lines = append(lines, strings.Join(row, ","))
			}
		}
		s.Text = strings.Join(lines, "\n")
		return s
	}

	sampleRows, cellLen := chooseSampleParams(rs, available)
	strata := ChooseStrata(rs)

	var samples []sample
	if len(strata) > 0 {
		samples = stratifiedSample(rs, strata, sampleRows, cellLen)
	} else {
		samples = plainSample(rs, sampleRows, cellLen)
	}

	s.SampleRows = len(samples)
	s.StrataCols = strata

	lines = append(lines, fmt.Sprintf("sample_rows: %d", len(samples)))
	if len(strata) > 0 {
		lines = append(lines, fmt.Sprintf("sample_strata: %v", strata))
	}
	lines = append(lines, fmt.Sprintf(
		"sample_note: There are %d rows; they do not fit in judge context. Subsampling %d rows for judging.",
		rs.RowCount(), len(samples)))
	lines = append(lines, "sample_note: Full result exists locally; do NOT penalize missing rows in the sample.")
	lines = append(lines, fmt.Sprintf(
		"sample_note: Sample cells truncated to %d chars for context; do NOT penalize truncation.", cellLen))
	if len(samples) > 0 {
		lines = append(lines, "samples:")
		for _, smp := range samples {
			lines = append(lines, fmt.Sprintf("- %s: %v", smp.position, smp.cells))
		}
	}

	s.Text = strings.Join(lines, "\n")
	return s
}

type sample struct {
	position string
	cells    []string
}

// positionLabel names where a row sits in the full result.
func positionLabel(idx, total int) string {
	switch {
	case idx < headTailBoundary:
		return fmt.Sprintf("head (row %d)", idx+1)
	case idx >= total-headTailBoundary:
		return fmt.Sprintf("tail (row %d)", idx+1)
	default:
		return fmt.Sprintf("middle (row %d)", idx+1)
	}
}

func truncateRow(row []string, cellLen int) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		cell = strings.ReplaceAll(cell, "\n", "\\n")
		if cellLen > 3 && len(cell) > cellLen {
			cell = cell[:cellLen-3] + "..."
		}
		out[i] = cell
	}
	return out
}

// evenlySpaced picks maxItems indices evenly across [0, count).
func evenlySpaced(count, maxItems int) []int {
	if count <= 0 || maxItems <= 0 {
		return nil
	}
	if maxItems >= count {
		idx := make([]int, count)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if maxItems == 1 {
		return []int{0}
	}

	step := float64(count-1) / float64(maxItems-1)
	seen := map[int]bool{}
	var out []int
	for i := 0; i < maxItems; i++ {
		idx := int(float64(i)*step + 0.5)
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

// plainSample picks rows without stratification: everything when it fits,
// head/middle/tail for the small default cap, evenly spaced otherwise.
func plainSample(rs *types.RowSet, maxSamples, cellLen int) []sample {
	n := rs.RowCount()
	if n == 0 || maxSamples <= 0 {
		return nil
	}

	var indices []int
	switch {
	case n <= maxSamples:
		for i := 0; i < n; i++ {
			indices = append(indices, i)
		}
	case maxSamples <= smallSampleRows:
		seen := map[int]bool{}
		add := func(i int) {
			if i >= 0 && i < n && !seen[i] {
				seen[i] = true
				indices = append(indices, i)
			}
		}
		for i := 0; i < headTailBoundary; i++ {
			add(i)
		}
		mid := n/2 - 1
		for i := 0; i < headTailBoundary; i++ {
			add(mid + i)
		}
		for i := n - headTailBoundary; i < n; i++ {
			add(i)
		}
		sort.Ints(indices)
		if len(indices) > maxSamples {
			indices = indices[:maxSamples]
		}
	default:
		indices = evenlySpaced(n, maxSamples)
	}

	out := make([]sample, 0, len(indices))
	for _, idx := range indices {
		out = append(out, sample{
			position: positionLabel(idx, n),
			cells:    truncateRow(rs.Rows[idx], cellLen),
		})
	}
	return out
}

// stratifiedSample groups rows by the strata columns and allocates the
// sample budget across groups proportionally to group size, with at least
// one row per surviving group.
func stratifiedSample(rs *types.RowSet, strata []string, maxSamples, cellLen int) []sample {
	n := rs.RowCount()
	if n == 0 || maxSamples <= 0 {
		return nil
	}

	colIdx := make([]int, 0, len(strata))
	for _, s := range strata {
		for i, c := range rs.Columns {
			if c == s {
				colIdx = append(colIdx, i)
				break
			}
		}
	}
	if len(colIdx) != len(strata) {
		return plainSample(rs, maxSamples, cellLen)
	}

	groups := map[string][]int{}
	var keys []string
	for i, row := range rs.Rows {
		parts := make([]string, len(colIdx))
		for j, ci := range colIdx {
			parts[j] = row[ci]
		}
		key := strings.Join(parts, "\x00")
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}
	sort.Strings(keys)

	// Too many groups: keep an evenly spaced subset.
	if len(keys) > maxSamples {
		picked := evenlySpaced(len(keys), maxSamples)
		sub := make([]string, 0, len(picked))
		for _, p := range picked {
			sub = append(sub, keys[p])
		}
		keys = sub
	}

	target := maxSamples
	if target > n {
		target = n
	}

	perGroup := make([]int, len(keys))
	for i := range perGroup {
		perGroup[i] = 1
	}
	remaining := target - len(keys)
	if remaining > 0 {
		totalSize := 0
		for _, k := range keys {
			totalSize += len(groups[k])
		}
		if totalSize == 0 {
			totalSize = 1
		}
		assigned := 0
		for i, k := range keys {
			extra := int(float64(remaining)*float64(len(groups[k]))/float64(totalSize) + 0.5)
			perGroup[i] += extra
			assigned += extra
		}
		// Round-off drift lands on the largest groups first.
		order := make([]int, len(keys))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool {
			return len(groups[keys[order[a]]]) > len(groups[keys[order[b]]])
		})
		diff := remaining - assigned
		step := 1
		if diff < 0 {
			step = -1
		}
		for i := 0; i < diff*step; i++ {
			gi := order[i%len(order)]
			if step < 0 && perGroup[gi] <= 1 {
				continue
			}
			perGroup[gi] += step
		}
	}

	var sampleIndices []int
	for i, k := range keys {
		rowsInGroup := groups[k]
		want := perGroup[i]
		if want > len(rowsInGroup) {
			want = len(rowsInGroup)
		}
		for _, pos := range evenlySpaced(len(rowsInGroup), want) {
			sampleIndices = append(sampleIndices, rowsInGroup[pos])
		}
	}
	if len(sampleIndices) == 0 {
		return plainSample(rs, maxSamples, cellLen)
	}
	sort.Ints(sampleIndices)

	out := make([]sample, 0, len(sampleIndices))
	for _, idx := range sampleIndices {
		out = append(out, sample{
			position: positionLabel(idx, n),
			cells:    truncateRow(rs.Rows[idx], cellLen),
		})
	}
	return out
}
