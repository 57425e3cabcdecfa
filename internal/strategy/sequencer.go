package strategy

import (
	"context"
	"fmt"

	"github.com/roach88/psyserve/internal/config"
	"github.com/roach88/psyserve/internal/core"
)

// Observation is one recorded trial as the sequencer sees it.
type Observation struct {
	Stimuli       core.Stimuli
	Outcomes      []float64
	StrategyIndex int
}

// SubStrategy is one phase of an experiment.
type SubStrategy struct {
	Config    config.StrategyConfig
	Generator Generator
	Model     Model
	Rule      StoppingRule

	tells int
	asks  int

	// fitTells is the tell count at the last successful fit, or -1.
	fitTells int
}

// Tells returns the number of trials recorded under the sub-strategy.
func (s *SubStrategy) Tells() int { return s.tells }

// Status summarizes one sub-strategy for info replies.
type Status struct {
	Name      string `json:"name"`
	Generator string `json:"generator"`
	Model     string `json:"model,omitempty"`
	Rule      string `json:"stopping_rule"`
	Tells     int    `json:"tells"`
	Done      bool   `json:"done"`
}

// Sequencer steps through sub-strategies in order. It is not safe for
// concurrent use; the dispatcher serializes access.
type Sequencer struct {
	space      Space
	outcomes   []string
	strategies []*SubStrategy
	cursor     int
	obs        []Observation
}

// Option configures a Sequencer.
type Option func(*options)

type options struct {
	registry *Registry
}

// WithRegistry sets the model registry used to build sub-strategy models.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// New builds a sequencer positioned at the first sub-strategy, or
// finished if there are none.
func New(cfg *config.ExperimentConfig, opts ...Option) (*Sequencer, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}

	seq := &Sequencer{
		space:      NewSpace(cfg),
		outcomes:   append([]string(nil), cfg.Outcomes...),
		strategies: make([]*SubStrategy, len(cfg.Strategies)),
	}
	for i, sc := range cfg.Strategies {
		gen, err := NewGenerator(sc)
		if err != nil {
			return nil, fmt.Errorf("strategy %d: %w", i, err)
		}
		var model Model
		if sc.Model != "" {
			model, err = o.registry.New(sc.Model, seq.space, sc.Seed)
			if err != nil {
				return nil, fmt.Errorf("strategy %d: %w", i, err)
			}
		}
		seq.strategies[i] = &SubStrategy{
			Config:    sc,
			Generator: gen,
			Model:     model,
			Rule:      NewStoppingRule(sc),
			fitTells:  -1,
		}
	}
	seq.advance()
	return seq, nil
}

// Space returns the feature space of the experiment.
func (s *Sequencer) Space() Space { return s.space }

// Len returns the number of sub-strategies.
func (s *Sequencer) Len() int { return len(s.strategies) }

// Current returns the active sub-strategy index. It equals Len once the
// sequencer is finished.
func (s *Sequencer) Current() int { return s.cursor }

// Finished reports whether every sub-strategy is done.
func (s *Sequencer) Finished() bool { return s.cursor >= len(s.strategies) }

// TotalTells returns the number of observations recorded.
func (s *Sequencer) TotalTells() int { return len(s.obs) }

// Ask proposes the next candidate from the active sub-strategy.
//
// Asking a finished sequencer is a protocol error. A generation or model
// failure is a strategy error and leaves the sequencer unchanged, so the
// ask may be retried.
func (s *Sequencer) Ask(ctx context.Context) (core.Stimuli, error) {
	if s.Finished() {
		return nil, core.NewProtocolError("experiment is finished")
	}
	sub := s.strategies[s.cursor]

	visible := s.visible(s.cursor)
	if err := s.refit(ctx, sub, visible, false); err != nil {
		return nil, core.NewStrategyError(sub.Config.Name, err)
	}

	cand, err := sub.Generator.Generate(ctx, GenerateInput{
		Space:        s.space,
		Index:        sub.asks,
		Model:        sub.Model,
		Observations: visible,
	})
	if err != nil {
		return nil, core.NewStrategyError(sub.Config.Name, err)
	}

	sub.asks++
	return cand, nil
}

// Tell records an observation that the store has already persisted.
// obs.StrategyIndex must be the index reported by Current when the trial
// was recorded. Tells received after the sequencer finished are kept as
// data but do not move the cursor.
func (s *Sequencer) Tell(obs Observation) {
	s.obs = append(s.obs, obs)
	if obs.StrategyIndex < len(s.strategies) {
		sub := s.strategies[obs.StrategyIndex]
		sub.tells++
		if sub.asks < sub.tells {
			sub.asks = sub.tells
		}
	}
	s.advance()
}

// Restore rebuilds state from stored observations, in trial order. The
// cursor is recomputed from per-strategy trial counts, so no in-memory
// counter needs to survive a restart. Restore must be called on a fresh
// sequencer.
func (s *Sequencer) Restore(observations []Observation) error {
	if len(s.obs) > 0 {
		return fmt.Errorf("restore: sequencer already holds %d observation(s)", len(s.obs))
	}
	for i, o := range observations {
		if o.StrategyIndex < 0 || o.StrategyIndex > len(s.strategies) {
			return fmt.Errorf("restore: observation %d has strategy index %d, experiment has %d strategies",
				i, o.StrategyIndex, len(s.strategies))
		}
	}

	s.obs = append([]Observation(nil), observations...)
	for _, o := range observations {
		if o.StrategyIndex < len(s.strategies) {
			sub := s.strategies[o.StrategyIndex]
			sub.tells++
			sub.asks = sub.tells
		}
	}
	s.cursor = 0
	s.advance()
	return nil
}

// advance moves the cursor past every sub-strategy whose rule is done.
func (s *Sequencer) advance() {
	for s.cursor < len(s.strategies) && s.done(s.cursor) {
		s.cursor++
	}
}

func (s *Sequencer) done(i int) bool {
	sub := s.strategies[i]
	return sub.Rule.Done(s.progress(i))
}

func (s *Sequencer) progress(i int) Progress {
	p := Progress{
		Tells:      s.strategies[i].tells,
		TotalTells: len(s.obs),
	}
	for ch, kind := range s.outcomes {
		if kind != config.OutcomeBinary {
			continue
		}
		var c [2]int
		for _, o := range s.visible(i) {
			if ch >= len(o.Outcomes) {
				continue
			}
			switch o.Outcomes[ch] {
			case 0:
				c[0]++
			case 1:
				c[1]++
			}
		}
		p.BinaryCounts = append(p.BinaryCounts, c)
	}
	return p
}

// visible returns the observations sub-strategy i may use: everything
// when it declares use_all_data, otherwise only its own trials.
func (s *Sequencer) visible(i int) []Observation {
	if s.strategies[i].Config.UseAllData {
		return s.obs
	}
	out := make([]Observation, 0, s.strategies[i].tells)
	for _, o := range s.obs {
		if o.StrategyIndex == i {
			out = append(out, o)
		}
	}
	return out
}

// refit fits the sub-strategy's model when refit_every new tells have
// accumulated since the last fit, or when force is set and anything is
// new. A failed fit leaves the previous fit state in place.
func (s *Sequencer) refit(ctx context.Context, sub *SubStrategy, visible []Observation, force bool) error {
	if sub.Model == nil || len(visible) == 0 {
		return nil
	}
	due := sub.fitTells < 0 || len(visible)-sub.fitTells >= sub.Config.RefitEvery
	if force {
		due = len(visible) != sub.fitTells
	}
	if !due {
		return nil
	}

	x := make([][]float64, len(visible))
	y := make([]float64, len(visible))
	for i, o := range visible {
		row, err := s.space.Flatten(o.Stimuli)
		if err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
		if len(o.Outcomes) == 0 {
			return fmt.Errorf("observation %d has no outcome", i)
		}
		x[i] = row
		y[i] = o.Outcomes[0]
	}
	if err := sub.Model.Fit(ctx, x, y); err != nil {
		return fmt.Errorf("fit model: %w", err)
	}
	sub.fitTells = len(visible)
	return nil
}

// modelStrategy returns the index of the sub-strategy whose model answers
// queries: the active one if it has a model, else the latest earlier one
// that does.
func (s *Sequencer) modelStrategy() (int, bool) {
	start := s.cursor
	if start >= len(s.strategies) {
		start = len(s.strategies) - 1
	}
	for i := start; i >= 0; i-- {
		if s.strategies[i].Model != nil {
			return i, true
		}
	}
	return 0, false
}

// CanModel reports whether a model is available with data to answer
// queries.
func (s *Sequencer) CanModel() bool {
	i, ok := s.modelStrategy()
	return ok && len(s.visible(i)) > 0
}

func (s *Sequencer) queryModel(ctx context.Context, points []core.Stimuli) (Model, [][]float64, error) {
	i, ok := s.modelStrategy()
	if !ok {
		return nil, nil, core.NewProtocolError("no strategy in this experiment has a model")
	}
	sub := s.strategies[i]
	visible := s.visible(i)
	if len(visible) == 0 {
		return nil, nil, core.NewProtocolError("model for strategy %q has no data yet", sub.Config.Name)
	}
	if err := s.refit(ctx, sub, visible, true); err != nil {
		return nil, nil, core.NewStrategyError(sub.Config.Name, err)
	}

	x := make([][]float64, len(points))
	for j, p := range points {
		row, err := s.space.Flatten(p)
		if err != nil {
			return nil, nil, core.NewProtocolError("query point %d: %v", j, err)
		}
		x[j] = row
	}
	return sub.Model, x, nil
}

// Predict queries the model's mean and variance at the given points.
func (s *Sequencer) Predict(ctx context.Context, points []core.Stimuli, probabilitySpace bool) ([]float64, []float64, error) {
	model, x, err := s.queryModel(ctx, points)
	if err != nil {
		return nil, nil, err
	}
	mean, variance, err := model.Predict(ctx, x, probabilitySpace)
	if err != nil {
		return nil, nil, core.NewStrategyError("query", err)
	}
	return mean, variance, nil
}

// Sample draws n model samples at the given points.
func (s *Sequencer) Sample(ctx context.Context, points []core.Stimuli, n int) ([][]float64, error) {
	model, x, err := s.queryModel(ctx, points)
	if err != nil {
		return nil, err
	}
	out, err := model.Sample(ctx, x, n)
	if err != nil {
		return nil, core.NewStrategyError("query", err)
	}
	return out, nil
}

// Statuses summarizes every sub-strategy.
func (s *Sequencer) Statuses() []Status {
	out := make([]Status, len(s.strategies))
	for i, sub := range s.strategies {
		out[i] = Status{
			Name:      sub.Config.Name,
			Generator: sub.Config.Generator,
			Model:     sub.Config.Model,
			Rule:      sub.Rule.String(),
			Tells:     sub.tells,
			Done:      i < s.cursor,
		}
	}
	return out
}
