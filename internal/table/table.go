package table

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/psyserve/internal/core"
	"github.com/roach88/psyserve/internal/store"
)

// Fixed leading columns.
const (
	ColumnTrialID   = core.ColumnTrialID
	ColumnTimestamp = core.ColumnTimestamp
	ColumnStrategy  = core.ColumnStrategy
)

// metadataPrefix renames metadata keys that collide with another column.
const metadataPrefix = "extra_"

// Table is a reconstructed experiment table. A nil cell means the trial
// never wrote that value.
type Table struct {
	ExperimentID string
	Columns      []string
	Rows         [][]any
}

// Column returns the values of the named column in row order.
func (t *Table) Column(name string) ([]any, bool) {
	i := slices.Index(t.Columns, name)
	if i < 0 {
		return nil, false
	}
	out := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out, true
}

// Floats returns a numeric column. Absent cells are reported as an error.
func (t *Table) Floats(name string) ([]float64, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("no column %q", name)
	}
	out := make([]float64, len(col))
	for i, v := range col {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("column %q row %d: not a number: %v", name, i, v)
		}
		out[i] = f
	}
	return out, nil
}

type paramKey struct {
	name  string
	index int
}

// Generate reconstructs the table for one experiment. It never writes.
func Generate(ctx context.Context, r store.Reader, experimentID string) (*Table, error) {
	exp, err := r.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("generate table: %w", err)
	}
	raws, err := r.GetRawTrials(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("generate table: %w", err)
	}
	params, err := r.GetParameters(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("generate table: %w", err)
	}
	outcomes, err := r.GetOutcomes(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("generate table: %w", err)
	}

	// Union of indices over the whole experiment.
	paramSet := map[paramKey]struct{}{}
	for _, p := range params {
		paramSet[paramKey{p.Name, p.StimulusIndex}] = struct{}{}
	}
	paramKeys := make([]paramKey, 0, len(paramSet))
	for k := range paramSet {
		paramKeys = append(paramKeys, k)
	}
	slices.SortFunc(paramKeys, func(a, b paramKey) int {
		if a.name != b.name {
			if a.name < b.name {
				return -1
			}
			return 1
		}
		return a.index - b.index
	})

	outcomeSet := map[int]struct{}{}
	for _, o := range outcomes {
		outcomeSet[o.OutcomeIndex] = struct{}{}
	}
	outcomeKeys := make([]int, 0, len(outcomeSet))
	for k := range outcomeSet {
		outcomeKeys = append(outcomeKeys, k)
	}
	slices.Sort(outcomeKeys)

	paramCols := make([]string, len(paramKeys))
	for i, k := range paramKeys {
		paramCols[i] = parameterColumn(k.name, k.index, exp.StimuliPerTrial)
	}
	outcomeCols := make([]string, len(outcomeKeys))
	for i, k := range outcomeKeys {
		outcomeCols[i] = outcomeColumn(k, exp.OutcomeCount)
	}

	taken := map[string]bool{ColumnTrialID: true, ColumnTimestamp: true, ColumnStrategy: true}
	for _, c := range paramCols {
		taken[c] = true
	}
	for _, c := range outcomeCols {
		taken[c] = true
	}

	metaKeys := map[string]struct{}{}
	for _, raw := range raws {
		for k := range raw.Metadata {
			metaKeys[k] = struct{}{}
		}
	}
	sortedMeta := core.SortedKeys(metaKeys)
	metaCols := make([]string, len(sortedMeta))
	for i, k := range sortedMeta {
		col := k
		for taken[col] {
			col = metadataPrefix + col
		}
		taken[col] = true
		metaCols[i] = col
	}

	columns := make([]string, 0, 3+len(metaCols)+len(paramCols)+len(outcomeCols))
	columns = append(columns, ColumnTrialID, ColumnTimestamp, ColumnStrategy)
	columns = append(columns, metaCols...)
	columns = append(columns, paramCols...)
	columns = append(columns, outcomeCols...)

	paramPos := make(map[paramKey]int, len(paramKeys))
	base := 3 + len(metaCols)
	for i, k := range paramKeys {
		paramPos[k] = base + i
	}
	outcomePos := make(map[int]int, len(outcomeKeys))
	base += len(paramKeys)
	for i, k := range outcomeKeys {
		outcomePos[k] = base + i
	}

	rows := make([][]any, len(raws))
	rowOf := make(map[int64]int, len(raws))
	for i, raw := range raws {
		row := make([]any, len(columns))
		row[0] = raw.TrialID
		row[1] = raw.CreatedAt.UTC().Format(timestampLayout)
		row[2] = raw.StrategyIndex
		for j, k := range sortedMeta {
			if v, ok := raw.Metadata[k]; ok {
				row[3+j] = v
			}
		}
		rows[i] = row
		rowOf[raw.TrialID] = i
	}

	for _, p := range params {
		i, ok := rowOf[p.TrialID]
		if !ok {
			return nil, fmt.Errorf("generate table: parameter row for unknown trial %d", p.TrialID)
		}
		rows[i][paramPos[paramKey{p.Name, p.StimulusIndex}]] = p.Value
	}
	for _, o := range outcomes {
		i, ok := rowOf[o.TrialID]
		if !ok {
			return nil, fmt.Errorf("generate table: outcome row for unknown trial %d", o.TrialID)
		}
		rows[i][outcomePos[o.OutcomeIndex]] = o.Value
	}

	return &Table{ExperimentID: experimentID, Columns: columns, Rows: rows}, nil
}

func parameterColumn(name string, index, stimuli int) string {
	if stimuli == 1 && index == 0 {
		return name
	}
	return name + "_stimuli" + strconv.Itoa(index)
}

func outcomeColumn(index, count int) string {
	if count == 1 && index == 0 {
		return core.ColumnOutcome
	}
	return core.ColumnOutcome + "_" + strconv.Itoa(index)
}
