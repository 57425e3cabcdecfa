package cli

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/psyserve/internal/config"
	"github.com/roach88/psyserve/internal/engine"
	"github.com/roach88/psyserve/internal/store"
	"github.com/roach88/psyserve/internal/strategy"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayResult reports the strategy state rebuilt from stored trials.
type ReplayResult struct {
	ExperimentID  string            `json:"experiment_id"`
	Trials        int               `json:"trials"`
	Strategy      int               `json:"strategy"`
	Finished      bool              `json:"finished"`
	Strategies    []strategy.Status `json:"strategies"`
	Deterministic bool              `json:"deterministic"`
	Consistent    bool              `json:"consistent"`
	Mismatches    []string          `json:"mismatches,omitempty"`
}

// String renders the text form.
func (r ReplayResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Experiment %s: %d trials, strategy %d, finished=%t\n", r.ExperimentID, r.Trials, r.Strategy, r.Finished)
	for i, s := range r.Strategies {
		state := "pending"
		switch {
		case s.Done:
			state = "done"
		case i == r.Strategy:
			state = "active"
		}
		fmt.Fprintf(&b, "  [%d] %-12s %-10s tells=%-4d %s (%s)\n", i, s.Name, s.Generator, s.Tells, state, s.Rule)
	}
	if r.Deterministic && r.Consistent {
		b.WriteString("Replay OK")
	} else {
		b.WriteString("Replay FAILED")
		for _, m := range r.Mismatches {
			fmt.Fprintf(&b, "\n  - %s", m)
		}
	}
	return b.String()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <experiment-id>",
		Short: "Rebuild strategy state from stored trials",
		Long: `Rebuild an experiment's strategy state from its stored configuration
and trials, the same way resume does, and verify it.

The rebuild runs twice and both results must agree. The per-strategy tell
counts must also match the strategy indices recorded with each trial.

Exit codes:
  0 - Rebuild is deterministic and consistent with the store
  1 - Verification failed
  2 - Command error (database or experiment not found, etc.)

Examples:
  psyserve replay --db ./trials.db 0192f7a0-...
  psyserve replay --db ./trials.db 0192f7a0-... --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	addDBFlag(cmd, &opts.Database)
	return cmd
}

func runReplay(opts *ReplayOptions, id string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(cmd, opts.RootOptions)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := replayExperiment(ctx, st, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(f, id)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay experiment %s", id), err)
	}

	if err := f.Success(result); err != nil {
		return err
	}
	if !result.Deterministic || !result.Consistent {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// replayExperiment rebuilds the session twice from one snapshot and
// checks both against the stored strategy indices.
func replayExperiment(ctx context.Context, st *store.Store, id string) (ReplayResult, error) {
	snap, err := st.Snapshot(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	defer snap.Close()

	first, err := engine.Rebuild(ctx, snap, id, config.NewCache(), strategy.NewRegistry())
	if err != nil {
		return ReplayResult{}, err
	}
	second, err := engine.Rebuild(ctx, snap, id, config.NewCache(), strategy.NewRegistry())
	if err != nil {
		return ReplayResult{}, fmt.Errorf("second rebuild: %w", err)
	}

	seq := first.Sequencer
	result := ReplayResult{
		ExperimentID:  id,
		Trials:        seq.TotalTells(),
		Strategy:      seq.Current(),
		Finished:      seq.Finished(),
		Strategies:    seq.Statuses(),
		Deterministic: true,
		Consistent:    true,
	}

	other := second.Sequencer
	if seq.Current() != other.Current() || seq.TotalTells() != other.TotalTells() ||
		!reflect.DeepEqual(seq.Statuses(), other.Statuses()) {
		result.Deterministic = false
		result.Mismatches = append(result.Mismatches, "two rebuilds of the same trials disagree")
	}

	raws, err := snap.GetRawTrials(ctx, id)
	if err != nil {
		return ReplayResult{}, err
	}
	counts := map[int]int{}
	for _, raw := range raws {
		counts[raw.StrategyIndex]++
	}
	for i, s := range result.Strategies {
		if counts[i] != s.Tells {
			result.Consistent = false
			result.Mismatches = append(result.Mismatches,
				fmt.Sprintf("strategy %d (%s): rebuilt %d tells, store records %d", i, s.Name, s.Tells, counts[i]))
		}
	}
	// Index len(strategies) holds tells recorded after the experiment finished.
	if extra := counts[len(result.Strategies)]; extra > 0 && !result.Finished {
		result.Consistent = false
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("store records %d trials after finish, but the rebuilt experiment is not finished", extra))
	}
	if len(raws) != result.Trials {
		result.Consistent = false
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("rebuilt %d trials, store records %d", result.Trials, len(raws)))
	}

	return result, nil
}
