package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/psyserve/internal/core"
)

// querier is satisfied by both *sql.DB and *sql.Tx so every read helper
// can run inside a snapshot.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Reader is the read surface shared by Store and Snapshot.
type Reader interface {
	GetExperiment(ctx context.Context, experimentID string) (core.Experiment, error)
	GetRawTrials(ctx context.Context, experimentID string) ([]core.RawTrial, error)
	GetParameters(ctx context.Context, experimentID string) ([]core.ParameterRecord, error)
	GetOutcomes(ctx context.Context, experimentID string) ([]core.OutcomeRecord, error)
}

var (
	_ Reader = (*Store)(nil)
	_ Reader = (*Snapshot)(nil)
)

// GetExperiment returns the master record, or ErrNotFound.
func (s *Store) GetExperiment(ctx context.Context, experimentID string) (core.Experiment, error) {
	return readExperiment(ctx, s.db, experimentID)
}

// ListExperiments returns every experiment, oldest first.
// Returns an empty slice if there are none.
func (s *Store) ListExperiments(ctx context.Context) ([]core.Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT experiment_id, created_at, config, config_hash, parameters,
		       stimuli_per_trial, outcome_count, completed
		FROM experiments
		ORDER BY created_at ASC, experiment_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	out := []core.Experiment{}
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("list experiments: %w", err)
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return out, nil
}

// GetTrialCount returns the number of recorded trials for an experiment.
func (s *Store) GetTrialCount(ctx context.Context, experimentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_trials WHERE experiment_id = ?
	`, experimentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trials: %w", err)
	}
	return n, nil
}

// CountTrialsByStrategy returns the number of trials recorded under each
// strategy index. Indices with no trials are absent from the map.
func (s *Store) CountTrialsByStrategy(ctx context.Context, experimentID string) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy_index, COUNT(*)
		FROM raw_trials
		WHERE experiment_id = ?
		GROUP BY strategy_index
		ORDER BY strategy_index ASC
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("count trials by strategy: %w", err)
	}
	defer rows.Close()

	out := map[int]int{}
	for rows.Next() {
		var idx, n int
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, fmt.Errorf("count trials by strategy: %w", err)
		}
		out[idx] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count trials by strategy: %w", err)
	}
	return out, nil
}

// GetRawTrials returns all raw trials ordered by trial id.
func (s *Store) GetRawTrials(ctx context.Context, experimentID string) ([]core.RawTrial, error) {
	return readRawTrials(ctx, s.db, experimentID)
}

// GetParameters returns all parameter rows ordered by trial id, stimulus
// index, then name.
func (s *Store) GetParameters(ctx context.Context, experimentID string) ([]core.ParameterRecord, error) {
	return readParameters(ctx, s.db, experimentID)
}

// GetOutcomes returns all outcome rows ordered by trial id, then outcome
// index.
func (s *Store) GetOutcomes(ctx context.Context, experimentID string) ([]core.OutcomeRecord, error) {
	return readOutcomes(ctx, s.db, experimentID)
}

// Snapshot is a consistent read-only view of the store. Trials recorded
// after the snapshot begins are not visible through it.
type Snapshot struct {
	tx *sql.Tx
}

// Snapshot opens a transaction used only for reads. The first read pins
// the WAL snapshot. Callers must Close it.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	return &Snapshot{tx: tx}, nil
}

// Close releases the snapshot.
func (sn *Snapshot) Close() error {
	err := sn.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (sn *Snapshot) GetExperiment(ctx context.Context, experimentID string) (core.Experiment, error) {
	return readExperiment(ctx, sn.tx, experimentID)
}

func (sn *Snapshot) GetRawTrials(ctx context.Context, experimentID string) ([]core.RawTrial, error) {
	return readRawTrials(ctx, sn.tx, experimentID)
}

func (sn *Snapshot) GetParameters(ctx context.Context, experimentID string) ([]core.ParameterRecord, error) {
	return readParameters(ctx, sn.tx, experimentID)
}

func (sn *Snapshot) GetOutcomes(ctx context.Context, experimentID string) ([]core.OutcomeRecord, error) {
	return readOutcomes(ctx, sn.tx, experimentID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (core.Experiment, error) {
	var (
		exp       core.Experiment
		createdAt string
		names     string
		completed int
	)
	err := row.Scan(&exp.ID, &createdAt, &exp.Config, &exp.ConfigHash, &names,
		&exp.StimuliPerTrial, &exp.OutcomeCount, &completed)
	if err != nil {
		return core.Experiment{}, err
	}
	if exp.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Experiment{}, err
	}
	if exp.Parameters, err = unmarshalNames(names); err != nil {
		return core.Experiment{}, err
	}
	exp.Completed = completed != 0
	return exp, nil
}

func readExperiment(ctx context.Context, q querier, experimentID string) (core.Experiment, error) {
	row := q.QueryRowContext(ctx, `
		SELECT experiment_id, created_at, config, config_hash, parameters,
		       stimuli_per_trial, outcome_count, completed
		FROM experiments
		WHERE experiment_id = ?
	`, experimentID)
	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Experiment{}, ErrNotFound
	}
	if err != nil {
		return core.Experiment{}, fmt.Errorf("get experiment: %w", err)
	}
	return exp, nil
}

func readRawTrials(ctx context.Context, q querier, experimentID string) ([]core.RawTrial, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT trial_id, strategy_index, created_at, metadata
		FROM raw_trials
		WHERE experiment_id = ?
		ORDER BY trial_id ASC
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("get raw trials: %w", err)
	}
	defer rows.Close()

	out := []core.RawTrial{}
	for rows.Next() {
		var (
			t         core.RawTrial
			createdAt string
			meta      string
		)
		if err := rows.Scan(&t.TrialID, &t.StrategyIndex, &createdAt, &meta); err != nil {
			return nil, fmt.Errorf("get raw trials: %w", err)
		}
		t.ExperimentID = experimentID
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("get raw trials: %w", err)
		}
		if t.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, fmt.Errorf("get raw trials: trial %d: %w", t.TrialID, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get raw trials: %w", err)
	}
	return out, nil
}

func readParameters(ctx context.Context, q querier, experimentID string) ([]core.ParameterRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT trial_id, name, stimulus_index, value
		FROM parameters
		WHERE experiment_id = ?
		ORDER BY trial_id ASC, stimulus_index ASC, name COLLATE BINARY ASC
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("get parameters: %w", err)
	}
	defer rows.Close()

	out := []core.ParameterRecord{}
	for rows.Next() {
		var p core.ParameterRecord
		if err := rows.Scan(&p.TrialID, &p.Name, &p.StimulusIndex, &p.Value); err != nil {
			return nil, fmt.Errorf("get parameters: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get parameters: %w", err)
	}
	return out, nil
}

func readOutcomes(ctx context.Context, q querier, experimentID string) ([]core.OutcomeRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT trial_id, outcome_index, value
		FROM outcomes
		WHERE experiment_id = ?
		ORDER BY trial_id ASC, outcome_index ASC
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("get outcomes: %w", err)
	}
	defer rows.Close()

	out := []core.OutcomeRecord{}
	for rows.Next() {
		var o core.OutcomeRecord
		if err := rows.Scan(&o.TrialID, &o.OutcomeIndex, &o.Value); err != nil {
			return nil, fmt.Errorf("get outcomes: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get outcomes: %w", err)
	}
	return out, nil
}
