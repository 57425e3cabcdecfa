package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/roach88/psyserve/internal/core"
	"github.com/roach88/psyserve/internal/store"
	"github.com/roach88/psyserve/internal/strategy"
)

// decodeMessage strictly decodes a request payload.
func decodeMessage(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return core.NewProtocolError("message is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.NewProtocolError("malformed message: %v", err)
	}
	return nil
}

func (e *Engine) requireSession() (*Session, error) {
	if e.session == nil {
		return nil, core.NewProtocolError("no active experiment: send setup or resume first")
	}
	return e.session, nil
}

func (e *Engine) handleSetup(ctx context.Context, req core.Request) (core.Response, error) {
	var msg core.SetupMessage
	if err := decodeMessage(req.Message, &msg); err != nil {
		return nil, err
	}

	cfg, err := e.configs.Parse(msg.ConfigStr)
	if err != nil {
		return nil, core.NewProtocolError("invalid config: %v", err)
	}
	seq, err := strategy.New(cfg, strategy.WithRegistry(e.registry))
	if err != nil {
		return nil, core.NewProtocolError("invalid config: %v", err)
	}

	id, err := e.store.OpenExperiment(ctx, store.ExperimentSpec{
		ID:              e.ids.Generate(),
		Config:          cfg.Source,
		Parameters:      cfg.ParameterNames(),
		StimuliPerTrial: cfg.StimuliPerTrial,
		OutcomeCount:    cfg.OutcomeCount(),
	})
	if err != nil {
		return nil, err
	}

	if e.session != nil {
		e.logger.Info("replacing active session", "experiment", e.session.ExperimentID)
	}
	e.session = &Session{
		ExperimentID: id,
		Config:       cfg,
		Sequencer:    seq,
		StrictTells:  e.strictFor(cfg.StrictTells),
	}

	e.logger.Info("experiment created",
		"experiment", id,
		"config_hash", cfg.Hash(),
		"strategies", seq.Len(),
	)

	return SetupReply{
		ExperimentID: id,
		ConfigHash:   cfg.Hash(),
		Strategies:   seq.Len(),
		Finished:     seq.Finished(),
	}, nil
}

func (e *Engine) strictFor(override *bool) bool {
	if override != nil {
		return *override
	}
	return e.strictTells
}

func (e *Engine) handleAsk(ctx context.Context) (core.Response, error) {
	sess, err := e.requireSession()
	if err != nil {
		return nil, err
	}

	cand, err := sess.Sequencer.Ask(ctx)
	if err != nil {
		return nil, err
	}
	sess.pendingAsk = true

	e.logger.Debug("ask",
		"experiment", sess.ExperimentID,
		"strategy", sess.Sequencer.Current(),
	)
	return cand, nil
}

func (e *Engine) handleTell(ctx context.Context, req core.Request) (core.Response, error) {
	sess, err := e.requireSession()
	if err != nil {
		return nil, err
	}

	var msg core.TellMessage
	if err := decodeMessage(req.Message, &msg); err != nil {
		return nil, err
	}
	if len(msg.Config) == 0 {
		return nil, core.NewProtocolError("tell has no config")
	}
	stimuli, err := core.DecodeConfig(msg.Config)
	if err != nil {
		return nil, core.NewProtocolError("tell config: %v", err)
	}
	outcomes, err := core.DecodeValues(msg.Outcome)
	if err != nil {
		return nil, core.NewProtocolError("tell outcome: %v", err)
	}

	if !sess.pendingAsk {
		if sess.StrictTells {
			return nil, core.NewProtocolError("tell without a preceding ask")
		}
		e.logger.Info("tell without a preceding ask, accepting",
			"experiment", sess.ExperimentID)
	}

	idx := sess.Sequencer.Current()
	trialID, err := e.store.RecordTrial(ctx, sess.ExperimentID, store.TrialInput{
		Parameters:    stimuli,
		Outcomes:      outcomes,
		Metadata:      core.MergeExtraInfo(msg.ExtraInfo, req.ExtraInfo),
		StrategyIndex: idx,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.trialsRecorded.Inc()

	sess.Sequencer.Tell(strategy.Observation{
		Stimuli:       stimuli,
		Outcomes:      outcomes,
		StrategyIndex: idx,
	})
	sess.pendingAsk = false

	e.logger.Info("trial recorded",
		"experiment", sess.ExperimentID,
		"trial", trialID,
		"strategy", idx,
		"finished", sess.Sequencer.Finished(),
	)

	return TellReply{
		TrialID:       trialID,
		StrategyIndex: idx,
		Finished:      sess.Sequencer.Finished(),
	}, nil
}

func (e *Engine) handleResume(ctx context.Context, req core.Request) (core.Response, error) {
	var msg ResumeMessage
	if err := decodeMessage(req.Message, &msg); err != nil {
		return nil, err
	}
	if msg.ExperimentID == "" {
		return nil, core.NewProtocolError("resume needs an experiment_id")
	}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, core.NewStoreError(msg.ExperimentID, "resume", err)
	}
	defer snap.Close()

	sess, err := Rebuild(ctx, snap, msg.ExperimentID, e.configs, e.registry)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, core.NewProtocolError("unknown experiment %q", msg.ExperimentID)
	case core.CodeOf(err) != "":
		return nil, err
	case err != nil:
		return nil, core.NewStoreError(msg.ExperimentID, "resume", err)
	}
	sess.StrictTells = e.strictFor(sess.Config.StrictTells)
	e.session = sess

	seq := sess.Sequencer
	e.logger.Info("experiment resumed",
		"experiment", sess.ExperimentID,
		"trials", seq.TotalTells(),
		"strategy", seq.Current(),
	)

	return ResumeReply{
		ExperimentID: sess.ExperimentID,
		Trials:       seq.TotalTells(),
		Strategy:     seq.Current(),
		Finished:     seq.Finished(),
	}, nil
}

func (e *Engine) handleExit(ctx context.Context) (core.Response, error) {
	if e.session == nil {
		return ExitReply{}, nil
	}
	sess := e.session
	e.session = nil

	completed := sess.Sequencer.Finished()
	if completed {
		if err := e.store.MarkCompleted(ctx, sess.ExperimentID); err != nil {
			return nil, core.NewStoreError(sess.ExperimentID, "exit", err)
		}
	}

	e.logger.Info("session closed",
		"experiment", sess.ExperimentID,
		"completed", completed,
	)
	return ExitReply{ExperimentID: sess.ExperimentID, Completed: completed}, nil
}

func (e *Engine) handleInfo(ctx context.Context) (core.Response, error) {
	if _, err := e.requireSession(); err != nil {
		return nil, err
	}
	return e.info(), nil
}

func (e *Engine) info() InfoReply {
	sess := e.session
	seq := sess.Sequencer
	return InfoReply{
		ExperimentID: sess.ExperimentID,
		ConfigHash:   sess.Config.Hash(),
		Trials:       seq.TotalTells(),
		Strategy:     seq.Current(),
		Finished:     seq.Finished(),
		StrictTells:  sess.StrictTells,
		Strategies:   seq.Statuses(),
	}
}

func (e *Engine) handleGetConfig() (core.Response, error) {
	sess, err := e.requireSession()
	if err != nil {
		return nil, err
	}
	return GetConfigReply{ConfigStr: sess.Config.Source, Config: sess.Config}, nil
}

func (e *Engine) handleCanModel() (core.Response, error) {
	sess, err := e.requireSession()
	if err != nil {
		return nil, err
	}
	return CanModelReply{CanModel: sess.Sequencer.CanModel()}, nil
}

func (e *Engine) handleQuery(ctx context.Context, req core.Request) (core.Response, error) {
	sess, err := e.requireSession()
	if err != nil {
		return nil, err
	}

	var msg QueryMessage
	if err := decodeMessage(req.Message, &msg); err != nil {
		return nil, err
	}
	if len(msg.Points) == 0 {
		return nil, core.NewProtocolError("query needs at least one point")
	}
	points := make([]core.Stimuli, len(msg.Points))
	for i, raw := range msg.Points {
		p, err := core.DecodeConfig(raw)
		if err != nil {
			return nil, core.NewProtocolError("query point %d: %v", i, err)
		}
		points[i] = p
	}

	switch msg.QueryType {
	case QueryPrediction:
		mean, variance, err := sess.Sequencer.Predict(ctx, points, msg.ProbabilitySpace)
		if err != nil {
			return nil, err
		}
		return PredictionReply{Mean: mean, Variance: variance}, nil

	case QuerySample:
		if msg.NumSamples < 1 {
			return nil, core.NewProtocolError("num_samples must be positive")
		}
		samples, err := sess.Sequencer.Sample(ctx, points, msg.NumSamples)
		if err != nil {
			return nil, err
		}
		return SampleReply{Samples: samples}, nil

	default:
		return nil, core.NewProtocolError("unknown query_type %q (want %q or %q)", msg.QueryType, QueryPrediction, QuerySample)
	}
}
