package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/psyserve/internal/config"
	"github.com/roach88/psyserve/internal/core"
)

func mustConfig(t *testing.T, src string) *config.ExperimentConfig {
	t.Helper()
	cfg, err := config.ParseExperiment(src)
	require.NoError(t, err)
	return cfg
}

func obs(x1, x2, y float64, strategy int) Observation {
	return Observation{
		Stimuli:       core.Stimuli{"x1": {x1}, "x2": {x2}},
		Outcomes:      []float64{y},
		StrategyIndex: strategy,
	}
}

// flakyModel fails Fit a fixed number of times before delegating.
type flakyModel struct {
	Model
	failures int
}

func (m *flakyModel) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if m.failures > 0 {
		m.failures--
		return errors.New("cholesky decomposition failed")
	}
	return m.Model.Fit(ctx, x, y)
}

func flakyRegistry(failures int) *Registry {
	r := NewRegistry()
	r.Register("flaky", func(space Space, seed int64) (Model, error) {
		inner, err := NewKernelModel(space, seed)
		if err != nil {
			return nil, err
		}
		return &flakyModel{Model: inner, failures: failures}, nil
	})
	return r
}
