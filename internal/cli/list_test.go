package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psyserve/internal/store"
)

func TestListMissingDatabaseFlag(t *testing.T) {
	_, _, err := execute(NewListCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestListDatabaseNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	_, _, err := execute(NewListCommand(&RootOptions{Format: "text"}), "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
	assert.NoFileExists(t, path)
}

func TestListEmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, _, err := execute(NewListCommand(&RootOptions{Format: "text"}), "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No experiments found.")
}

func TestListText(t *testing.T) {
	path := seedDatabase(t, "exp-a", 2)

	out, _, err := execute(NewListCommand(&RootOptions{Format: "text"}), "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "EXPERIMENT")
	assert.Contains(t, out, "exp-a")
	assert.Contains(t, out, "x1,x2")
}

func TestListJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	addExperiment(t, st, "exp-a", 3)
	addExperiment(t, st, "exp-b", 1)
	require.NoError(t, st.MarkCompleted(context.Background(), "exp-b"))
	require.NoError(t, st.Close())

	out, _, err := execute(NewListCommand(&RootOptions{Format: "json"}), "--db", path)
	require.NoError(t, err)

	var result ListResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, result.Experiments, 2)

	byID := map[string]ExperimentSummary{}
	for _, e := range result.Experiments {
		byID[e.ID] = e
	}
	assert.Equal(t, 3, byID["exp-a"].Trials)
	assert.Equal(t, map[int]int{0: 3}, byID["exp-a"].StrategyTrials)
	assert.False(t, byID["exp-a"].Completed)
	assert.Equal(t, 1, byID["exp-b"].Trials)
	assert.True(t, byID["exp-b"].Completed)
	assert.Equal(t, []string{"x1", "x2"}, byID["exp-a"].Parameters)
	assert.Equal(t, 1, byID["exp-a"].StimuliPerTrial)
	assert.Equal(t, 1, byID["exp-a"].OutcomeCount)
}
