package strategy

import (
	"fmt"

	"github.com/roach88/psyserve/internal/config"
	"github.com/roach88/psyserve/internal/core"
)

// Space maps stimuli to flat feature vectors. Coordinate p*Stimuli+i
// holds parameter p (declaration order) at stimulus index i.
type Space struct {
	Names   []string
	Lower   []float64
	Upper   []float64
	Stimuli int
}

// NewSpace builds the feature space of an experiment configuration.
func NewSpace(cfg *config.ExperimentConfig) Space {
	s := Space{
		Names:   make([]string, len(cfg.Parameters)),
		Lower:   make([]float64, len(cfg.Parameters)),
		Upper:   make([]float64, len(cfg.Parameters)),
		Stimuli: cfg.StimuliPerTrial,
	}
	for i, p := range cfg.Parameters {
		s.Names[i] = p.Name
		s.Lower[i] = p.LowerBound
		s.Upper[i] = p.UpperBound
	}
	return s
}

// Dim is the length of a feature vector.
func (s Space) Dim() int {
	return len(s.Names) * s.Stimuli
}

// Bounds returns the bounds of coordinate d.
func (s Space) Bounds(d int) (lo, hi float64) {
	p := d / s.Stimuli
	return s.Lower[p], s.Upper[p]
}

// Flatten converts stimuli to a feature vector.
func (s Space) Flatten(st core.Stimuli) ([]float64, error) {
	x := make([]float64, s.Dim())
	for p, name := range s.Names {
		values, ok := st[name]
		if !ok {
			return nil, fmt.Errorf("missing parameter %q", name)
		}
		if len(values) != s.Stimuli {
			return nil, fmt.Errorf("parameter %q: expected %d value(s), got %d", name, s.Stimuli, len(values))
		}
		copy(x[p*s.Stimuli:], values)
	}
	return x, nil
}

// Unflatten converts a feature vector back to stimuli.
func (s Space) Unflatten(x []float64) core.Stimuli {
	st := make(core.Stimuli, len(s.Names))
	for p, name := range s.Names {
		st[name] = append([]float64(nil), x[p*s.Stimuli:(p+1)*s.Stimuli]...)
	}
	return st
}
