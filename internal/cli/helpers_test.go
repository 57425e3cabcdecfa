package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psyserve/internal/core"
	"github.com/roach88/psyserve/internal/engine"
	"github.com/roach88/psyserve/internal/store"
)

const testConfig = `
parameters: [
	{name: "x1", lower_bound: 0, upper_bound: 4},
	{name: "x2", lower_bound: 0, upper_bound: 4},
]
outcomes: ["continuous"]
strategies: [
	{name: "init", generator: "random", min_asks: 3, seed: 1},
	{name: "opt", generator: "optimize", min_asks: 4, seed: 2},
]
`

// seedDatabase creates a database holding one experiment with the given
// number of ask/tell rounds and returns its path.
func seedDatabase(t *testing.T, id string, trials int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	addExperiment(t, st, id, trials)
	return path
}

func addExperiment(t *testing.T, st *store.Store, id string, trials int) {
	t.Helper()
	ctx := context.Background()
	eng := engine.New(st,
		engine.WithIDGenerator(engine.NewFixedGenerator(id)),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithMetricsRegisterer(prometheus.NewRegistry()),
	)

	msg, err := json.Marshal(core.SetupMessage{ConfigStr: testConfig})
	require.NoError(t, err)
	_, err = eng.HandleVersioned(ctx, core.Request{Type: core.MessageSetup, Version: "0.01", Message: msg})
	require.NoError(t, err)

	for i := range trials {
		_, err := eng.HandleUnversioned(ctx, core.Request{Type: core.MessageAsk, Message: json.RawMessage(`""`)})
		require.NoError(t, err)
		tell, err := json.Marshal(map[string]any{
			"config":  map[string]any{"x1": 1.0, "x2": float64(i % 5)},
			"outcome": 0.5,
		})
		require.NoError(t, err)
		_, err = eng.HandleUnversioned(ctx, core.Request{
			Type:      core.MessageTell,
			Message:   tell,
			ExtraInfo: map[string]any{"subject": "s1"},
		})
		require.NoError(t, err)
	}
}

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// decodeResponse parses a JSON CLI response and its data payload.
func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	if data != nil {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.CLIResponse
}

// safeBuffer is a bytes.Buffer safe for concurrent writers.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
