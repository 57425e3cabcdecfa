package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/psyserve/internal/core"
	"github.com/roach88/psyserve/internal/engine"
	"github.com/roach88/psyserve/internal/store"
	"github.com/roach88/psyserve/internal/table"
	"github.com/roach88/psyserve/internal/testutil"
)

// DefaultVersion is the protocol version used for setup when a scenario
// names none.
const DefaultVersion = "0.01"

// Harness drives one scenario through a dispatcher.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.StepClock
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. setup through the versioned handler
//  2. ask/tell through the unversioned handler, one trial at a time, until
//     the experiment finishes
//  3. optional ask after finish
//  4. reconstruct the table and evaluate expectations
//
// The returned error reports a run that could not proceed; failed
// expectations are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	clock := testutil.NewStepClock(time.Time{}, 0)
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	eng := engine.New(st,
		engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.ExperimentID)),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithStrictTells(scenario.StrictTells),
		engine.WithMetricsRegisterer(prometheus.NewRegistry()),
	)

	h := &Harness{store: st, engine: eng, clock: clock}
	return h.run(ctx, scenario)
}

func (h *Harness) run(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := NewResult()

	version := scenario.Version
	if version == "" {
		version = DefaultVersion
	}
	setupMsg := core.SetupMessage{ConfigStr: scenario.Config}
	resp, err := h.send(ctx, result, core.MessageSetup, version, setupMsg, nil)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	setup := resp.(engine.SetupReply)
	result.ExperimentID = setup.ExperimentID
	finished := setup.Finished

	for i, step := range scenario.Trials {
		if finished {
			result.AddError(fmt.Sprintf("experiment finished after trial %d; %d trials unused", i, len(scenario.Trials)-i))
			break
		}

		if !step.SkipAsk {
			if _, err := h.send(ctx, result, core.MessageAsk, "", "", nil); err != nil {
				result.AddError(fmt.Sprintf("trials[%d]: ask: %v", i, err))
				break
			}
		}

		tell := map[string]any{"config": step.Config, "outcome": step.Outcome}
		resp, err := h.send(ctx, result, core.MessageTell, "", tell, step.ExtraInfo)
		if step.ExpectError != "" {
			if got := core.CodeOf(err); got != step.ExpectError {
				result.AddError(fmt.Sprintf("trials[%d]: tell: expected error %s, got %v", i, step.ExpectError, errOrOK(err)))
			}
			continue
		}
		if err != nil {
			result.AddError(fmt.Sprintf("trials[%d]: tell: %v", i, err))
			break
		}
		finished = resp.(engine.TellReply).Finished
	}
	result.Finished = finished

	if want := scenario.Expect.AskAfterFinishError; want != "" {
		_, err := h.send(ctx, result, core.MessageAsk, "", "", nil)
		if got := core.CodeOf(err); got != want {
			result.AddError(fmt.Sprintf("ask after finish: expected error %s, got %v", want, errOrOK(err)))
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	for _, err := range EvaluateExpectations(result, scenario.Expect) {
		result.AddError(err.Error())
	}
	return result, nil
}

// send marshals msg as the request payload and records the exchange.
func (h *Harness) send(ctx context.Context, result *Result, typ, version string, msg any, extra map[string]any) (core.Response, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", typ, err)
	}
	req := core.Request{Type: typ, Version: version, Message: raw, ExtraInfo: extra}

	var resp core.Response
	if version != "" {
		resp, err = h.engine.HandleVersioned(ctx, req)
	} else {
		resp, err = h.engine.HandleUnversioned(ctx, req)
	}
	result.addEvent(typ, msg, resp, err)
	return resp, err
}

// collect reads the final store state into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	id := result.ExperimentID

	n, err := h.store.GetTrialCount(ctx, id)
	if err != nil {
		return fmt.Errorf("trial count: %w", err)
	}
	params, err := h.store.GetParameters(ctx, id)
	if err != nil {
		return fmt.Errorf("parameters: %w", err)
	}
	outcomes, err := h.store.GetOutcomes(ctx, id)
	if err != nil {
		return fmt.Errorf("outcomes: %w", err)
	}
	tbl, err := table.Generate(ctx, h.store, id)
	if err != nil {
		return err
	}

	result.TrialCount = n
	result.ParameterRows = len(params)
	result.OutcomeRows = len(outcomes)
	result.Table = tbl
	return nil
}

func errOrOK(err error) any {
	if err == nil {
		return "success"
	}
	return err
}
