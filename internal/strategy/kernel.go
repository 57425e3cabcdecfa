package strategy

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

// KernelModelName is the registry name of the built-in model.
const KernelModelName = "kernel"

const (
	// defaultBandwidth is the Gaussian kernel width in unit-cube
	// coordinates.
	defaultBandwidth = 0.2

	// priorWeight is the pseudo-observation weight of the global prior.
	// Far from data, predictions relax to the prior mean and variance.
	priorWeight = 1e-3

	// minVariance keeps the prior variance positive when every outcome
	// is identical.
	minVariance = 1e-6
)

// KernelModel is a Nadaraya-Watson regressor with a Gaussian kernel.
// Inputs are scaled to the unit cube using the space bounds. Predictions
// shrink toward the global mean and variance of y, so uncertainty grows
// with distance from observed points.
type KernelModel struct {
	space     Space
	bandwidth float64
	seed      int64
	samples   uint64

	x         [][]float64
	y         []float64
	priorMean float64
	priorVar  float64
}

var _ Model = (*KernelModel)(nil)

// NewKernelModel is the ModelFactory of the built-in model.
func NewKernelModel(space Space, seed int64) (Model, error) {
	if space.Dim() == 0 {
		return nil, fmt.Errorf("kernel model: empty feature space")
	}
	return &KernelModel{space: space, bandwidth: defaultBandwidth, seed: seed}, nil
}

// Fit replaces the model's data.
func (m *KernelModel) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(x) != len(y) {
		return fmt.Errorf("kernel model: %d rows but %d outcomes", len(x), len(y))
	}

	scaled := make([][]float64, len(x))
	var sum float64
	for i, row := range x {
		if len(row) != m.space.Dim() {
			return fmt.Errorf("kernel model: row %d has %d features, want %d", i, len(row), m.space.Dim())
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return fmt.Errorf("kernel model: non-finite outcome at row %d", i)
		}
		scaled[i] = m.scale(row)
		sum += y[i]
	}

	m.x = scaled
	m.y = append([]float64(nil), y...)
	if len(y) == 0 {
		m.priorMean, m.priorVar = 0, 1
		return nil
	}

	m.priorMean = sum / float64(len(y))
	var ss float64
	for _, v := range y {
		d := v - m.priorMean
		ss += d * d
	}
	m.priorVar = math.Max(ss/float64(len(y)), minVariance)
	return nil
}

// Predict returns the posterior mean and variance at each point.
func (m *KernelModel) Predict(ctx context.Context, points [][]float64, probabilitySpace bool) ([]float64, []float64, error) {
	if len(m.y) == 0 {
		return nil, nil, ErrNotFit
	}

	mean := make([]float64, len(points))
	variance := make([]float64, len(points))
	for i, p := range points {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if len(p) != m.space.Dim() {
			return nil, nil, fmt.Errorf("kernel model: point %d has %d features, want %d", i, len(p), m.space.Dim())
		}
		mu, v := m.predictOne(m.scale(p))
		if probabilitySpace {
			mu = math.Min(math.Max(mu, 0), 1)
			v = math.Min(v, mu*(1-mu)+minVariance)
		}
		mean[i], variance[i] = mu, v
	}
	return mean, variance, nil
}

// Sample draws n samples per point from independent normals at the
// predicted mean and variance. Result rows are samples; columns are
// points. Successive calls continue the same seeded stream.
func (m *KernelModel) Sample(ctx context.Context, points [][]float64, n int) ([][]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("kernel model: sample count must be positive, got %d", n)
	}
	mean, variance, err := m.Predict(ctx, points, false)
	if err != nil {
		return nil, err
	}

	m.samples++
	rng := rand.New(rand.NewPCG(uint64(m.seed), m.samples))
	out := make([][]float64, n)
	for s := range out {
		row := make([]float64, len(points))
		for i := range points {
			row[i] = mean[i] + math.Sqrt(variance[i])*rng.NormFloat64()
		}
		out[s] = row
	}
	return out, nil
}

func (m *KernelModel) predictOne(p []float64) (float64, float64) {
	w := make([]float64, len(m.x))
	sumW := priorWeight
	sumWY := priorWeight * m.priorMean
	h2 := 2 * m.bandwidth * m.bandwidth
	for i, row := range m.x {
		var d2 float64
		for k := range row {
			d := row[k] - p[k]
			d2 += d * d
		}
		w[i] = math.Exp(-d2 / h2)
		sumW += w[i]
		sumWY += w[i] * m.y[i]
	}
	mu := sumWY / sumW

	ss := priorWeight * m.priorVar
	for i := range m.x {
		d := m.y[i] - mu
		ss += w[i] * d * d
	}
	v := ss/sumW + m.priorVar*priorWeight/sumW
	return mu, v
}

func (m *KernelModel) scale(x []float64) []float64 {
	out := make([]float64, len(x))
	for d, v := range x {
		lo, hi := m.space.Bounds(d)
		out[d] = (v - lo) / (hi - lo)
	}
	return out
}
