package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitSpace() Space {
	return Space{Names: []string{"x"}, Lower: []float64{0}, Upper: []float64{1}, Stimuli: 1}
}

func TestKernelModel_PredictBeforeFit(t *testing.T) {
	m, err := NewKernelModel(unitSpace(), 0)
	require.NoError(t, err)

	_, _, err = m.Predict(context.Background(), [][]float64{{0.5}}, false)
	assert.ErrorIs(t, err, ErrNotFit)
}

func TestKernelModel_InterpolatesAndGrowsUncertain(t *testing.T) {
	ctx := context.Background()
	m, err := NewKernelModel(unitSpace(), 0)
	require.NoError(t, err)
	require.NoError(t, m.Fit(ctx, [][]float64{{0}, {1}}, []float64{0, 1}))

	mean, variance, err := m.Predict(ctx, [][]float64{{0}, {0.5}, {1}}, false)
	require.NoError(t, err)

	assert.Less(t, mean[0], 0.01)
	assert.InDelta(t, 0.5, mean[1], 1e-9)
	assert.Greater(t, mean[2], 0.99)
	assert.Greater(t, variance[1], variance[0])
	assert.Greater(t, variance[1], variance[2])
}

func TestKernelModel_ProbabilitySpaceClamps(t *testing.T) {
	ctx := context.Background()
	m, err := NewKernelModel(unitSpace(), 0)
	require.NoError(t, err)
	require.NoError(t, m.Fit(ctx, [][]float64{{0}, {1}}, []float64{2, 3}))

	mean, variance, err := m.Predict(ctx, [][]float64{{0.5}}, true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, mean[0])
	assert.LessOrEqual(t, variance[0], 1e-6)
}

func TestKernelModel_FitRejects(t *testing.T) {
	ctx := context.Background()
	m, err := NewKernelModel(unitSpace(), 0)
	require.NoError(t, err)

	assert.Error(t, m.Fit(ctx, [][]float64{{0}}, []float64{0, 1}))
	assert.Error(t, m.Fit(ctx, [][]float64{{0, 1}}, []float64{0}))
}

func TestKernelModel_SampleShapeAndDeterminism(t *testing.T) {
	ctx := context.Background()
	fit := func() Model {
		m, err := NewKernelModel(unitSpace(), 42)
		require.NoError(t, err)
		require.NoError(t, m.Fit(ctx, [][]float64{{0.2}, {0.8}}, []float64{0, 1}))
		return m
	}

	a, err := fit().Sample(ctx, [][]float64{{0.1}, {0.5}, {0.9}}, 4)
	require.NoError(t, err)
	b, err := fit().Sample(ctx, [][]float64{{0.1}, {0.5}, {0.9}}, 4)
	require.NoError(t, err)

	require.Len(t, a, 4)
	assert.Len(t, a[0], 3)
	assert.Equal(t, a, b)

	_, err = fit().Sample(ctx, [][]float64{{0.1}}, 0)
	assert.Error(t, err)
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{KernelModelName}, r.Names())

	_, err := r.New("missing", unitSpace(), 0)
	assert.Error(t, err)
}
