package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFit is returned by models asked to predict before any data was fit.
var ErrNotFit = errors.New("model has not been fit")

// Model is the capability interface of a modeling backend.
//
// x rows are feature vectors in the experiment Space; y holds the first
// outcome channel of each row. When probabilitySpace is set, Predict
// reports the mean and variance of a response probability rather than of
// the raw outcome scale.
type Model interface {
	Fit(ctx context.Context, x [][]float64, y []float64) error
	Predict(ctx context.Context, points [][]float64, probabilitySpace bool) (mean, variance []float64, err error)
	Sample(ctx context.Context, points [][]float64, n int) ([][]float64, error)
}

// ModelFactory constructs a model for a feature space. seed makes any
// randomness in the model reproducible.
type ModelFactory func(space Space, seed int64) (Model, error)

// Registry maps model names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ModelFactory
}

// NewRegistry returns a registry holding the built-in models.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]ModelFactory)}
	r.Register(KernelModelName, NewKernelModel)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f ModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New constructs the named model.
func (r *Registry) New(name string, space Space, seed int64) (Model, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model %q (known: %v)", name, r.Names())
	}
	return f(space, seed)
}

// Names returns the registered model names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
