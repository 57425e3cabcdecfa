package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psyserve/internal/core"
	"github.com/roach88/psyserve/internal/store"
)

const singleConfig = `
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

const multiConfig = `
parameters: [
	{name: "x1", lower_bound: 0, upper_bound: 4},
	{name: "x2", lower_bound: 0, upper_bound: 4},
]
stimuli_per_trial: 2
outcomes: ["continuous", "continuous"]
strategies: [
	{name: "init", generator: "random", min_asks: 3, seed: 1},
	{name: "opt", generator: "optimize", min_asks: 4, seed: 2},
]
`

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, s *store.Store, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithIDGenerator(NewFixedGenerator("exp-1", "exp-2", "exp-3")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetricsRegisterer(prometheus.NewRegistry()),
	}
	return New(s, append(base, opts...)...)
}

func setupRequest(t *testing.T, cfg string) core.Request {
	t.Helper()
	msg, err := json.Marshal(core.SetupMessage{ConfigStr: cfg})
	require.NoError(t, err)
	return core.Request{Type: core.MessageSetup, Version: "0.01", Message: msg}
}

func askRequest() core.Request {
	return core.Request{Type: core.MessageAsk, Message: json.RawMessage(`""`)}
}

func tellRequest(t *testing.T, cfg map[string]any, outcome any) core.Request {
	t.Helper()
	msg, err := json.Marshal(map[string]any{"config": cfg, "outcome": outcome})
	require.NoError(t, err)
	return core.Request{
		Type:      core.MessageTell,
		Message:   msg,
		ExtraInfo: map[string]any{"e1": 1.0, "e2": 2.0},
	}
}

func rawRequest(typ string, msg string) core.Request {
	return core.Request{Type: typ, Message: json.RawMessage(msg)}
}

// mustSetup runs setup and returns the experiment id.
func mustSetup(t *testing.T, e *Engine, cfg string) string {
	t.Helper()
	resp, err := e.HandleVersioned(context.Background(), setupRequest(t, cfg))
	require.NoError(t, err)
	return resp.(SetupReply).ExperimentID
}

// askTell runs one ask/tell round and returns the tell reply.
func askTell(t *testing.T, e *Engine, cfg map[string]any, outcome any) TellReply {
	t.Helper()
	ctx := context.Background()
	_, err := e.HandleUnversioned(ctx, askRequest())
	require.NoError(t, err)
	resp, err := e.HandleUnversioned(ctx, tellRequest(t, cfg, outcome))
	require.NoError(t, err)
	return resp.(TellReply)
}
