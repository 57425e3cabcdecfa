package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psyserve/internal/store"
)

func seedTwo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	addExperiment(t, st, "exp-a", 2)
	addExperiment(t, st, "exp-b", 1)
	require.NoError(t, st.Close())
	return path
}

func remaining(t *testing.T, path string) []string {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	exps, err := st.ListExperiments(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(exps))
	for _, e := range exps {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestDeleteOne(t *testing.T) {
	path := seedTwo(t)

	out, _, err := execute(NewDeleteCommand(&RootOptions{Format: "text"}), "--db", path, "exp-a")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted experiment exp-a.")
	assert.Equal(t, []string{"exp-b"}, remaining(t, path))
}

func TestDeleteAll(t *testing.T) {
	path := seedTwo(t)

	out, _, err := execute(NewDeleteCommand(&RootOptions{Format: "json"}), "--db", path, "--all")
	require.NoError(t, err)

	var result DeleteResult
	decodeResponse(t, out, &result)
	assert.ElementsMatch(t, []string{"exp-a", "exp-b"}, result.Deleted)
	assert.Empty(t, remaining(t, path))
}

func TestDeleteUnknownExperiment(t *testing.T) {
	path := seedTwo(t)

	_, _, err := execute(NewDeleteCommand(&RootOptions{Format: "text"}), "--db", path, "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Len(t, remaining(t, path), 2)
}

func TestDeleteArgs(t *testing.T) {
	path := seedTwo(t)

	_, _, err := execute(NewDeleteCommand(&RootOptions{Format: "text"}), "--db", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an experiment id or --all")

	_, _, err = execute(NewDeleteCommand(&RootOptions{Format: "text"}), "--db", path, "--all", "exp-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot combine")

	assert.Len(t, remaining(t, path), 2)
}
