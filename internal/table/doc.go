// Package table rebuilds the wide, one-row-per-trial experiment table from
// the normalized trial store.
//
// The table is a read-side projection. Its column set is the union of
// every (parameter, stimulus index) and outcome index seen anywhere in the
// experiment, so a trial that never wrote a value gets an empty cell
// rather than shifting the columns. Generate only reads, and it reads
// through a single store.Reader, so a snapshot reader yields a table that
// is consistent as of the last committed trial.
//
// Column order:
//
//	trial_id, timestamp, strategy, metadata keys (sorted),
//	parameters (name ascending, then stimulus index), outcomes (index ascending)
//
// Parameter columns are named {name} when the experiment presents one
// stimulus per trial and {name}_stimuli{i} otherwise. Outcome columns are
// named outcome or outcome_{i} the same way. A metadata key that collides
// with another column is prefixed with extra_.
package table
