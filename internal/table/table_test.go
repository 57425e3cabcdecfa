package table

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psyserve/internal/core"
	"github.com/roach88/psyserve/internal/store"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// setupTestStore returns a store whose clock advances one second per
// timestamp written.
func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	tick := 0
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(func() time.Time {
		tick++
		return fixedTime.Add(time.Duration(tick) * time.Second)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openExperiment(t *testing.T, s *store.Store, id string, stimuli, outcomes int) {
	t.Helper()
	_, err := s.OpenExperiment(context.Background(), store.ExperimentSpec{
		ID:              id,
		Config:          "parameters: []",
		Parameters:      []string{"x1", "x2"},
		StimuliPerTrial: stimuli,
		OutcomeCount:    outcomes,
	})
	require.NoError(t, err)
}

func record(t *testing.T, s *store.Store, id string, in store.TrialInput) {
	t.Helper()
	_, err := s.RecordTrial(context.Background(), id, in)
	require.NoError(t, err)
}

func TestGenerate_SingleStimulusSingleOutcome(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	openExperiment(t, s, "exp", 1, 1)

	x1 := []float64{0.1, 0.2, 0.3, 1, 2, 3, 4}
	x2 := []float64{4, 0.1, 3, 0.2, 2, 1, 0.3}
	outcomes := []float64{1, -1, 0.1, 0, -0.1, 0, 0}
	for i := range x1 {
		record(t, s, "exp", store.TrialInput{
			Parameters: core.Stimuli{"x1": {x1[i]}, "x2": {x2[i]}},
			Outcomes:   []float64{outcomes[i]},
			Metadata:   map[string]any{"e1": 1.0, "e2": 2.0},
		})
	}

	tbl, err := Generate(ctx, s, "exp")
	require.NoError(t, err)
	assert.Equal(t, []string{"trial_id", "timestamp", "strategy", "e1", "e2", "x1", "x2", "outcome"}, tbl.Columns)
	assert.Len(t, tbl.Rows, 7)

	got, err := tbl.Floats("x1")
	require.NoError(t, err)
	assert.Equal(t, x1, got)
	got, err = tbl.Floats("x2")
	require.NoError(t, err)
	assert.Equal(t, x2, got)
	got, err = tbl.Floats("outcome")
	require.NoError(t, err)
	assert.Equal(t, outcomes, got)

	ids, ok := tbl.Column("trial_id")
	require.True(t, ok)
	assert.Equal(t, int64(1), ids[0])
	assert.Equal(t, int64(7), ids[6])
}

func TestGenerate_MultiStimulusMultiOutcome(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	openExperiment(t, s, "exp", 2, 2)

	x1 := [][]float64{{0.1, 0.2}, {0.3, 1}, {2, 3}, {4, 0.1}, {0.2, 2}, {1, 0.3}, {0.3, 0.1}}
	x2 := [][]float64{{4, 0.1}, {3, 0.2}, {2, 1}, {0.3, 0.2}, {2, 0.3}, {1, 0.1}, {0.3, 4}}
	outcomes := [][]float64{{1, 0}, {-1, 0}, {0.1, 0}, {0, 0}, {-0.1, 0}, {0, 0}, {0, 0}}
	for i := range x1 {
		record(t, s, "exp", store.TrialInput{
			Parameters: core.Stimuli{"x1": x1[i], "x2": x2[i]},
			Outcomes:   outcomes[i],
		})
	}

	tbl, err := Generate(ctx, s, "exp")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"trial_id", "timestamp", "strategy",
		"x1_stimuli0", "x1_stimuli1", "x2_stimuli0", "x2_stimuli1",
		"outcome_0", "outcome_1",
	}, tbl.Columns)

	column := func(name string) []float64 {
		vals, err := tbl.Floats(name)
		require.NoError(t, err)
		return vals
	}
	for i := range x1 {
		assert.Equal(t, x1[i], []float64{column("x1_stimuli0")[i], column("x1_stimuli1")[i]})
		assert.Equal(t, x2[i], []float64{column("x2_stimuli0")[i], column("x2_stimuli1")[i]})
		assert.Equal(t, outcomes[i], []float64{column("outcome_0")[i], column("outcome_1")[i]})
	}
}

func TestGenerate_MetadataCollisions(t *testing.T) {
	s := setupTestStore(t)
	openExperiment(t, s, "exp", 1, 1)
	record(t, s, "exp", store.TrialInput{
		Parameters: core.Stimuli{"x1": {1}, "x2": {2}},
		Outcomes:   []float64{1},
		Metadata:   map[string]any{"x1": "note", "strategy": "mine", "subject": "s01"},
	})

	tbl, err := Generate(context.Background(), s, "exp")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"trial_id", "timestamp", "strategy",
		"extra_strategy", "subject", "extra_x1",
		"x1", "x2", "outcome",
	}, tbl.Columns)

	col, _ := tbl.Column("extra_x1")
	assert.Equal(t, []any{"note"}, col)
	col, _ = tbl.Column("strategy")
	assert.Equal(t, []any{0}, col)
}

func TestGenerate_MissingMetadataIsEmpty(t *testing.T) {
	s := setupTestStore(t)
	openExperiment(t, s, "exp", 1, 1)
	record(t, s, "exp", store.TrialInput{
		Parameters: core.Stimuli{"x1": {1}, "x2": {2}},
		Outcomes:   []float64{1},
		Metadata:   map[string]any{"rt": 0.25},
	})
	record(t, s, "exp", store.TrialInput{
		Parameters: core.Stimuli{"x1": {1}, "x2": {2}},
		Outcomes:   []float64{0},
	})

	tbl, err := Generate(context.Background(), s, "exp")
	require.NoError(t, err)
	col, ok := tbl.Column("rt")
	require.True(t, ok)
	assert.Equal(t, []any{0.25, nil}, col)

	_, err = tbl.Floats("rt")
	assert.Error(t, err)
}

func TestGenerate_ColumnsAreUnionAcrossTrials(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.OpenExperiment(context.Background(), store.ExperimentSpec{
		ID:              "exp",
		Config:          "parameters: []",
		StimuliPerTrial: 2,
		OutcomeCount:    1,
	})
	require.NoError(t, err)

	record(t, s, "exp", store.TrialInput{
		Parameters: core.Stimuli{"a": {1.5, 1.75}},
		Outcomes:   []float64{1},
	})
	record(t, s, "exp", store.TrialInput{
		Parameters: core.Stimuli{"b": {2.5, 2.75}},
		Outcomes:   []float64{0},
	})

	tbl, err := Generate(context.Background(), s, "exp")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"trial_id", "timestamp", "strategy",
		"a_stimuli0", "a_stimuli1", "b_stimuli0", "b_stimuli1",
		"outcome",
	}, tbl.Columns)

	for name, want := range map[string][]any{
		"a_stimuli0": {1.5, nil},
		"a_stimuli1": {1.75, nil},
		"b_stimuli0": {nil, 2.5},
		"b_stimuli1": {nil, 2.75},
		"outcome":    {1.0, 0.0},
	} {
		col, ok := tbl.Column(name)
		require.True(t, ok, name)
		assert.Equal(t, want, col, name)
	}

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[1], ",1.5,1.75,,,1"), lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ",,,2.5,2.75,0"), lines[2])
}

func TestGenerate_EmptyExperiment(t *testing.T) {
	s := setupTestStore(t)
	openExperiment(t, s, "exp", 1, 1)

	tbl, err := Generate(context.Background(), s, "exp")
	require.NoError(t, err)
	assert.Equal(t, []string{"trial_id", "timestamp", "strategy"}, tbl.Columns)
	assert.Empty(t, tbl.Rows)

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"rows": []`)
}

func TestGenerate_UnknownExperiment(t *testing.T) {
	_, err := Generate(context.Background(), setupTestStore(t), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGenerate_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	openExperiment(t, s, "exp", 1, 1)
	for i := 0; i < 3; i++ {
		record(t, s, "exp", store.TrialInput{
			Parameters: core.Stimuli{"x1": {float64(i) / 3}, "x2": {2}},
			Outcomes:   []float64{1},
			Metadata:   map[string]any{"block": []any{1.0, "a"}},
		})
	}

	render := func() []byte {
		tbl, err := Generate(ctx, s, "exp")
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, tbl.WriteCSV(&buf))
		return buf.Bytes()
	}
	first := render()
	assert.Equal(t, first, render())

	n, err := s.GetTrialCount(ctx, "exp")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGenerate_FromSnapshot(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	openExperiment(t, s, "exp", 1, 1)
	record(t, s, "exp", store.TrialInput{
		Parameters: core.Stimuli{"x1": {1}, "x2": {2}},
		Outcomes:   []float64{1},
	})

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()

	tbl, err := Generate(ctx, snap, "exp")
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 1)
}

func TestWriteJSON_RoundTripsValues(t *testing.T) {
	s := setupTestStore(t)
	openExperiment(t, s, "exp", 1, 1)
	record(t, s, "exp", store.TrialInput{
		Parameters: core.Stimuli{"x1": {0.1}, "x2": {1e-7}},
		Outcomes:   []float64{-0.1},
	})

	tbl, err := Generate(context.Background(), s, "exp")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteJSON(&buf))

	var decoded struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, []string{"trial_id", "timestamp", "strategy", "x1", "x2", "outcome"}, decoded.Columns)
	row := decoded.Rows[0]
	assert.Equal(t, 0.1, row[3])
	assert.Equal(t, 1e-7, row[4])
	assert.Equal(t, -0.1, row[5])
}

func TestWriteCSV_Golden(t *testing.T) {
	s := setupTestStore(t)
	openExperiment(t, s, "exp", 1, 1)
	record(t, s, "exp", store.TrialInput{
		Parameters: core.Stimuli{"x1": {0.1}, "x2": {4}},
		Outcomes:   []float64{1},
		Metadata:   map[string]any{"e1": 1.0, "e2": "a"},
	})
	record(t, s, "exp", store.TrialInput{
		Parameters: core.Stimuli{"x1": {0.2}, "x2": {0.1}},
		Outcomes:   []float64{-1},
		Metadata:   map[string]any{"e1": 1.0, "e2": "a"},
	})
	record(t, s, "exp", store.TrialInput{
		Parameters:    core.Stimuli{"x1": {0.3}, "x2": {3}},
		Outcomes:      []float64{0.1},
		StrategyIndex: 1,
	})

	tbl, err := Generate(context.Background(), s, "exp")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "single_stimulus", buf.Bytes())
}
