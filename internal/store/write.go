package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/psyserve/internal/core"
)

// ExperimentSpec describes a new experiment. Cardinalities are fixed for
// the experiment's lifetime and checked by RecordTrial.
type ExperimentSpec struct {
	ID              string
	Config          string
	Parameters      []string // declared parameter names; empty accepts any non-empty set
	StimuliPerTrial int
	OutcomeCount    int
}

// TrialInput is one tell, already normalized to index form.
type TrialInput struct {
	Parameters    core.Stimuli
	Outcomes      []float64
	Metadata      map[string]any
	StrategyIndex int
}

// OpenExperiment creates the master record for a new experiment and
// returns its id.
func (s *Store) OpenExperiment(ctx context.Context, spec ExperimentSpec) (string, error) {
	if spec.ID == "" {
		return "", fmt.Errorf("open experiment: id is required")
	}
	if spec.StimuliPerTrial < 1 || spec.OutcomeCount < 1 {
		return "", core.NewIntegrityError(spec.ID,
			"stimuli_per_trial and outcome count must be positive (got %d, %d)",
			spec.StimuliPerTrial, spec.OutcomeCount)
	}

	names := make([]string, len(spec.Parameters))
	for i, n := range spec.Parameters {
		names[i] = core.NormalizeName(n)
		if core.ReservedName(names[i]) {
			return "", core.NewIntegrityError(spec.ID, "parameter name %q is reserved", names[i])
		}
	}
	namesJSON, err := marshalNames(names)
	if err != nil {
		return "", core.NewStoreError(spec.ID, "open experiment", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO experiments
		(experiment_id, created_at, config, config_hash, parameters, stimuli_per_trial, outcome_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		spec.ID,
		formatTime(s.now()),
		spec.Config,
		core.ConfigHash(spec.Config),
		namesJSON,
		spec.StimuliPerTrial,
		spec.OutcomeCount,
	)
	if err != nil {
		return "", core.NewStoreError(spec.ID, "open experiment", err)
	}

	return spec.ID, nil
}

// RecordTrial atomically inserts one raw trial plus all of its parameter
// and outcome rows, and returns the assigned trial id.
//
// Shape problems (unknown experiment, wrong parameter names, wrong
// stimulus or outcome cardinality) return an integrity error and write
// nothing. I/O failures return a store error and write nothing.
func (s *Store) RecordTrial(ctx context.Context, experimentID string, in TrialInput) (int64, error) {
	metaJSON, err := marshalMetadata(in.Metadata)
	if err != nil {
		return 0, core.NewIntegrityError(experimentID, "%v", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, core.NewStoreError(experimentID, "record trial: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	exp, err := readExperiment(ctx, tx, experimentID)
	if errors.Is(err, ErrNotFound) {
		return 0, &core.Error{Code: core.ErrCodeIntegrity, Message: "unknown experiment", ExperimentID: experimentID, Err: err}
	}
	if err != nil {
		return 0, core.NewStoreError(experimentID, "record trial: read experiment", err)
	}

	if err := validateShape(exp, in); err != nil {
		return 0, err
	}

	var trialID int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(trial_id), 0) + 1 FROM raw_trials WHERE experiment_id = ?
	`, experimentID).Scan(&trialID)
	if err != nil {
		return 0, core.NewStoreError(experimentID, "record trial: next trial id", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO raw_trials
		(experiment_id, trial_id, strategy_index, created_at, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, experimentID, trialID, in.StrategyIndex, formatTime(s.now()), metaJSON)
	if err != nil {
		return 0, core.NewStoreError(experimentID, "record trial: insert raw trial", err)
	}

	paramStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO parameters (experiment_id, trial_id, name, stimulus_index, value)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, core.NewStoreError(experimentID, "record trial: prepare parameters", err)
	}
	defer paramStmt.Close()

	// Sorted names keep row insertion deterministic.
	for _, name := range core.SortedKeys(in.Parameters) {
		for idx, value := range in.Parameters[name] {
			if _, err := paramStmt.ExecContext(ctx, experimentID, trialID, core.NormalizeName(name), idx, value); err != nil {
				return 0, core.NewStoreError(experimentID, "record trial: insert parameter", err)
			}
		}
	}

	for idx, value := range in.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outcomes (experiment_id, trial_id, outcome_index, value)
			VALUES (?, ?, ?, ?)
		`, experimentID, trialID, idx, value)
		if err != nil {
			return 0, core.NewStoreError(experimentID, "record trial: insert outcome", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, core.NewStoreError(experimentID, "record trial: commit", err)
	}

	return trialID, nil
}

// validateShape checks a trial against the experiment's declared
// cardinality.
func validateShape(exp core.Experiment, in TrialInput) error {
	if len(in.Outcomes) != exp.OutcomeCount {
		return core.NewIntegrityError(exp.ID, "expected %d outcome(s), got %d", exp.OutcomeCount, len(in.Outcomes))
	}
	if len(in.Parameters) == 0 {
		return core.NewIntegrityError(exp.ID, "trial has no parameters")
	}

	if len(exp.Parameters) > 0 {
		declared := make(map[string]bool, len(exp.Parameters))
		for _, name := range exp.Parameters {
			declared[name] = true
		}
		var missing []string
		for _, name := range exp.Parameters {
			if _, ok := in.Parameters[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return core.NewIntegrityError(exp.ID, "missing parameter(s) %v", missing)
		}
		for name := range in.Parameters {
			if !declared[core.NormalizeName(name)] {
				return core.NewIntegrityError(exp.ID, "undeclared parameter %q", name)
			}
		}
	}

	names := make([]string, 0, len(in.Parameters))
	for name := range in.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if core.ReservedName(core.NormalizeName(name)) {
			return core.NewIntegrityError(exp.ID, "parameter name %q is reserved", name)
		}
		if got := len(in.Parameters[name]); got != exp.StimuliPerTrial {
			return core.NewIntegrityError(exp.ID, "parameter %q: expected %d stimulus value(s), got %d",
				name, exp.StimuliPerTrial, got)
		}
	}

	return nil
}

// MarkCompleted sets the completion flag on an experiment.
func (s *Store) MarkCompleted(ctx context.Context, experimentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE experiments SET completed = 1 WHERE experiment_id = ?
	`, experimentID)
	if err != nil {
		return core.NewStoreError(experimentID, "mark completed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.NewStoreError(experimentID, "mark completed", err)
	}
	if n == 0 {
		return fmt.Errorf("mark completed: %w", ErrNotFound)
	}
	return nil
}

// Delete irreversibly removes an experiment and all of its rows.
func (s *Store) Delete(ctx context.Context, experimentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.NewStoreError(experimentID, "delete: begin tx", err)
	}
	defer tx.Rollback()

	var res sql.Result
	for _, q := range []string{
		`DELETE FROM outcomes WHERE experiment_id = ?`,
		`DELETE FROM parameters WHERE experiment_id = ?`,
		`DELETE FROM raw_trials WHERE experiment_id = ?`,
		`DELETE FROM experiments WHERE experiment_id = ?`,
	} {
		res, err = tx.ExecContext(ctx, q, experimentID)
		if err != nil {
			return core.NewStoreError(experimentID, "delete", err)
		}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return core.NewStoreError(experimentID, "delete", err)
	}
	if n == 0 {
		return fmt.Errorf("delete: %w", ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return core.NewStoreError(experimentID, "delete: commit", err)
	}
	return nil
}

// DeleteAll irreversibly removes every experiment. Used for teardown.
func (s *Store) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.NewStoreError("", "delete all: begin tx", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"outcomes", "parameters", "raw_trials", "experiments"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return core.NewStoreError("", "delete all", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.NewStoreError("", "delete all: commit", err)
	}
	return nil
}
