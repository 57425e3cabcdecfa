package strategy

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/roach88/psyserve/internal/config"
	"github.com/roach88/psyserve/internal/core"
)

// GenerateInput is what a generator may look at when proposing the next
// candidate.
type GenerateInput struct {
	// Space describes parameter names, bounds and stimulus cardinality.
	Space Space

	// Index counts candidates already proposed by this sub-strategy.
	// Generators derive their randomness from it, so retrying a failed
	// ask proposes the same candidate.
	Index int

	// Model is the sub-strategy's fitted model, or nil.
	Model Model

	// Observations visible to the sub-strategy.
	Observations []Observation
}

// Generator proposes the next candidate stimuli.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (core.Stimuli, error)
}

// NewGenerator builds the generator named by a sub-strategy configuration.
func NewGenerator(sc config.StrategyConfig) (Generator, error) {
	switch sc.Generator {
	case config.GeneratorRandom:
		return &RandomGenerator{Seed: sc.Seed}, nil
	case config.GeneratorManual:
		if len(sc.Points) == 0 {
			return nil, fmt.Errorf("manual generator %q has no points", sc.Name)
		}
		return &ManualGenerator{Points: sc.Points}, nil
	case config.GeneratorOptimize:
		return &OptimizeGenerator{
			Seed:          sc.Seed,
			NumCandidates: sc.NumCandidates,
			Acquisition:   sc.Acquisition,
		}, nil
	default:
		return nil, fmt.Errorf("unknown generator %q", sc.Generator)
	}
}

// RandomGenerator draws every coordinate uniformly within its bounds.
type RandomGenerator struct {
	Seed int64
}

func (g *RandomGenerator) Generate(ctx context.Context, in GenerateInput) (core.Stimuli, error) {
	rng := rand.New(rand.NewPCG(uint64(g.Seed), uint64(in.Index)))
	return in.Space.Unflatten(uniformPoint(rng, in.Space)), nil
}

// ManualGenerator cycles through a fixed list of points.
type ManualGenerator struct {
	Points []core.Stimuli
}

func (g *ManualGenerator) Generate(ctx context.Context, in GenerateInput) (core.Stimuli, error) {
	return g.Points[in.Index%len(g.Points)].Clone(), nil
}

// OptimizeGenerator scores a pool of uniform candidates with the model
// and proposes the best one. With acquisition "variance" it picks the
// most uncertain point; with "mean" the highest predicted outcome. Until
// the model has data it proposes a uniform point.
type OptimizeGenerator struct {
	Seed          int64
	NumCandidates int
	Acquisition   string
}

func (g *OptimizeGenerator) Generate(ctx context.Context, in GenerateInput) (core.Stimuli, error) {
	rng := rand.New(rand.NewPCG(uint64(g.Seed), uint64(in.Index)))
	if in.Model == nil || len(in.Observations) == 0 {
		return in.Space.Unflatten(uniformPoint(rng, in.Space)), nil
	}

	n := g.NumCandidates
	if n < 1 {
		n = 1
	}
	pool := make([][]float64, n)
	for i := range pool {
		pool[i] = uniformPoint(rng, in.Space)
	}

	mean, variance, err := in.Model.Predict(ctx, pool, false)
	if err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}

	score := variance
	if g.Acquisition == config.AcquisitionMean {
		score = mean
	}
	best := 0
	for i := 1; i < len(score); i++ {
		if score[i] > score[best] {
			best = i
		}
	}
	return in.Space.Unflatten(pool[best]), nil
}

func uniformPoint(rng *rand.Rand, space Space) []float64 {
	x := make([]float64, space.Dim())
	for d := range x {
		lo, hi := space.Bounds(d)
		x[d] = lo + rng.Float64()*(hi-lo)
	}
	return x
}
