package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/psyserve/internal/core"
)

// fixedTime is the base timestamp used by createTestStore's clock.
var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing. Every
// timestamp it writes advances by one second from fixedTime.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	tick := 0
	s, err := Open(path, WithClock(func() time.Time {
		tick++
		return fixedTime.Add(time.Duration(tick) * time.Second)
	}))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestExperiment opens a two-parameter, single-outcome experiment.
func createTestExperiment(t *testing.T, s *Store, id string, stimuli int) {
	t.Helper()
	_, err := s.OpenExperiment(context.Background(), ExperimentSpec{
		ID:              id,
		Config:          "parameters: {}",
		Parameters:      []string{"x1", "x2"},
		StimuliPerTrial: stimuli,
		OutcomeCount:    1,
	})
	if err != nil {
		t.Fatalf("OpenExperiment() failed: %v", err)
	}
}

// trialInput builds a single-stimulus trial for the test experiment.
func trialInput(x1, x2, outcome float64) TrialInput {
	return TrialInput{
		Parameters: core.Stimuli{"x1": {x1}, "x2": {x2}},
		Outcomes:   []float64{outcome},
		Metadata:   map[string]any{"e1": 1.0},
	}
}
