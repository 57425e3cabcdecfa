package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/psyserve/internal/core"
)

func TestGetExperiment_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetExperiment(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestListExperiments_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	exps, err := s.ListExperiments(context.Background())
	if err != nil {
		t.Fatalf("ListExperiments() failed: %v", err)
	}
	if exps == nil {
		t.Error("ListExperiments() returned nil, want empty slice")
	}
}

func TestListExperiments_OldestFirst(t *testing.T) {
	s := createTestStore(t)
	createTestExperiment(t, s, "second-by-name", 1)
	createTestExperiment(t, s, "a-later", 1)

	exps, err := s.ListExperiments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(exps) != 2 {
		t.Fatalf("len = %d, want 2", len(exps))
	}
	if exps[0].ID != "second-by-name" || exps[1].ID != "a-later" {
		t.Errorf("order = [%s %s], want creation order", exps[0].ID, exps[1].ID)
	}
}

func TestGetRawTrials_OrderedWithMetadata(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestExperiment(t, s, "exp-1", 1)

	in := trialInput(0.1, 0.2, 1)
	in.Metadata = map[string]any{"e1": 1.0, "e2": "note"}
	in.StrategyIndex = 0
	if _, err := s.RecordTrial(ctx, "exp-1", in); err != nil {
		t.Fatal(err)
	}
	in.StrategyIndex = 1
	in.Metadata = nil
	if _, err := s.RecordTrial(ctx, "exp-1", in); err != nil {
		t.Fatal(err)
	}

	trials, err := s.GetRawTrials(ctx, "exp-1")
	if err != nil {
		t.Fatalf("GetRawTrials() failed: %v", err)
	}
	if len(trials) != 2 {
		t.Fatalf("len = %d, want 2", len(trials))
	}
	if trials[0].TrialID != 1 || trials[1].TrialID != 2 {
		t.Errorf("trial ids = [%d %d], want [1 2]", trials[0].TrialID, trials[1].TrialID)
	}
	if trials[1].StrategyIndex != 1 {
		t.Errorf("strategy index = %d, want 1", trials[1].StrategyIndex)
	}
	if trials[0].Metadata["e1"] != 1.0 || trials[0].Metadata["e2"] != "note" {
		t.Errorf("metadata = %v", trials[0].Metadata)
	}
	if trials[1].Metadata == nil || len(trials[1].Metadata) != 0 {
		t.Errorf("empty metadata = %v, want empty map", trials[1].Metadata)
	}
}

func TestGetParameters_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestExperiment(t, s, "exp-1", 2)

	_, err := s.RecordTrial(ctx, "exp-1", TrialInput{
		Parameters: core.Stimuli{"x2": {3, 4}, "x1": {1, 2}},
		Outcomes:   []float64{0},
	})
	if err != nil {
		t.Fatal(err)
	}

	params, err := s.GetParameters(ctx, "exp-1")
	if err != nil {
		t.Fatalf("GetParameters() failed: %v", err)
	}
	want := []core.ParameterRecord{
		{TrialID: 1, Name: "x1", StimulusIndex: 0, Value: 1},
		{TrialID: 1, Name: "x2", StimulusIndex: 0, Value: 3},
		{TrialID: 1, Name: "x1", StimulusIndex: 1, Value: 2},
		{TrialID: 1, Name: "x2", StimulusIndex: 1, Value: 4},
	}
	if len(params) != len(want) {
		t.Fatalf("len = %d, want %d", len(params), len(want))
	}
	for i := range want {
		if params[i] != want[i] {
			t.Errorf("params[%d] = %+v, want %+v", i, params[i], want[i])
		}
	}
}

func TestGetOutcomes_PreservesPrecision(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.OpenExperiment(ctx, ExperimentSpec{
		ID: "exp-1", Config: "x", StimuliPerTrial: 1, OutcomeCount: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.RecordTrial(ctx, "exp-1", TrialInput{
		Parameters: core.Stimuli{"x": {0.1}},
		Outcomes:   []float64{0.1 + 0.2, 1e-300},
	})
	if err != nil {
		t.Fatal(err)
	}

	outs, err := s.GetOutcomes(ctx, "exp-1")
	if err != nil {
		t.Fatalf("GetOutcomes() failed: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("len = %d, want 2", len(outs))
	}
	if outs[0].Value != 0.1+0.2 || outs[1].Value != 1e-300 {
		t.Errorf("values = [%v %v], lost precision", outs[0].Value, outs[1].Value)
	}
	if outs[0].OutcomeIndex != 0 || outs[1].OutcomeIndex != 1 {
		t.Errorf("outcome indices = [%d %d], want [0 1]", outs[0].OutcomeIndex, outs[1].OutcomeIndex)
	}
}

func TestCountTrialsByStrategy(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestExperiment(t, s, "exp-1", 1)

	for _, idx := range []int{0, 0, 1, 1, 1} {
		in := trialInput(0.5, 0.5, 1)
		in.StrategyIndex = idx
		if _, err := s.RecordTrial(ctx, "exp-1", in); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := s.CountTrialsByStrategy(ctx, "exp-1")
	if err != nil {
		t.Fatalf("CountTrialsByStrategy() failed: %v", err)
	}
	if counts[0] != 2 || counts[1] != 3 {
		t.Errorf("counts = %v, want map[0:2 1:3]", counts)
	}
}

func TestSnapshot_ReadsConsistentView(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestExperiment(t, s, "exp-1", 1)
	if _, err := s.RecordTrial(ctx, "exp-1", trialInput(0.1, 0.2, 1)); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	defer snap.Close()

	before, err := snap.GetRawTrials(ctx, "exp-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.RecordTrial(ctx, "exp-1", trialInput(0.3, 0.4, 0)); err != nil {
		t.Fatalf("RecordTrial() during snapshot failed: %v", err)
	}

	after, err := snap.GetRawTrials(ctx, "exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 1 || len(after) != 1 {
		t.Errorf("snapshot saw %d then %d trials, want 1 and 1", len(before), len(after))
	}

	n, err := s.GetTrialCount(ctx, "exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("store trial count = %d, want 2", n)
	}
}
