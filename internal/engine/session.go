package engine

import (
	"context"

	"github.com/roach88/psyserve/internal/config"
	"github.com/roach88/psyserve/internal/core"
	"github.com/roach88/psyserve/internal/store"
	"github.com/roach88/psyserve/internal/strategy"
)

// Session is the state of the active experiment. It replaces any
// process-global server state: every handler receives it explicitly.
type Session struct {
	ExperimentID string
	Config       *config.ExperimentConfig
	Sequencer    *strategy.Sequencer
	StrictTells  bool

	// pendingAsk is set by ask and cleared by the tell that answers it.
	pendingAsk bool
}

// Observations loads the recorded trials of an experiment in trial order.
// All reads go through r, so passing a snapshot yields a consistent view.
func Observations(ctx context.Context, r store.Reader, experimentID string) ([]strategy.Observation, error) {
	raws, err := r.GetRawTrials(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	params, err := r.GetParameters(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	outcomes, err := r.GetOutcomes(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	index := make(map[int64]int, len(raws))
	out := make([]strategy.Observation, len(raws))
	for i, raw := range raws {
		index[raw.TrialID] = i
		out[i] = strategy.Observation{
			Stimuli:       core.Stimuli{},
			StrategyIndex: raw.StrategyIndex,
		}
	}

	// Rows arrive ordered by trial then index, so appending places each
	// value at its stimulus or outcome index.
	for _, p := range params {
		i, ok := index[p.TrialID]
		if !ok {
			return nil, core.NewIntegrityError(experimentID, "parameter row for unknown trial %d", p.TrialID)
		}
		st := out[i].Stimuli
		if len(st[p.Name]) != p.StimulusIndex {
			return nil, core.NewIntegrityError(experimentID, "trial %d parameter %q: stimulus index %d out of sequence", p.TrialID, p.Name, p.StimulusIndex)
		}
		st[p.Name] = append(st[p.Name], p.Value)
	}
	for _, o := range outcomes {
		i, ok := index[o.TrialID]
		if !ok {
			return nil, core.NewIntegrityError(experimentID, "outcome row for unknown trial %d", o.TrialID)
		}
		if len(out[i].Outcomes) != o.OutcomeIndex {
			return nil, core.NewIntegrityError(experimentID, "trial %d: outcome index %d out of sequence", o.TrialID, o.OutcomeIndex)
		}
		out[i].Outcomes = append(out[i].Outcomes, o.Value)
	}

	return out, nil
}

// Rebuild reconstructs the session of a stored experiment from its
// configuration snapshot and recorded trials only. Stored data that no
// longer parses or does not fit the configuration is reported as an
// integrity error; read failures are returned as is.
func Rebuild(ctx context.Context, r store.Reader, experimentID string, configs *config.Cache, registry *strategy.Registry) (*Session, error) {
	exp, err := r.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	cfg, err := configs.Parse(exp.Config)
	if err != nil {
		return nil, core.NewIntegrityError(experimentID, "stored config: %v", err)
	}
	seq, err := strategy.New(cfg, strategy.WithRegistry(registry))
	if err != nil {
		return nil, core.NewIntegrityError(experimentID, "stored config: %v", err)
	}

	obs, err := Observations(ctx, r, experimentID)
	if err != nil {
		return nil, err
	}
	if err := seq.Restore(obs); err != nil {
		return nil, core.NewIntegrityError(experimentID, "%v", err)
	}

	return &Session{
		ExperimentID: experimentID,
		Config:       cfg,
		Sequencer:    seq,
	}, nil
}
