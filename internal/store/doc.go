// Package store provides SQLite-backed durable storage for experiment trials.
//
// The store keeps four normalized tables:
//   - experiments: one master record per setup
//   - raw_trials: one row per accepted tell
//   - parameters: one row per (trial, parameter name, stimulus index)
//   - outcomes: one row per (trial, outcome index)
//
// # Invariants
//
// Trial ids are assigned inside the RecordTrial transaction as
// max(trial_id)+1 for the experiment, so they are strictly increasing and
// gap-free in commit order.
//
// RecordTrial is atomic: the raw row and every derived parameter and
// outcome row commit together or not at all. A successful return means the
// trial survives a process crash.
//
// All reads are ordered by trial_id ASC, then by index ASC within a trial.
//
// # Database Configuration
//
// Pragmas are passed through the DSN so every pooled connection gets them:
//   - WAL mode: readers see a committed snapshot while a tell is written
//   - synchronous=FULL: a committed trial is durable before the reply
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: cascades from experiments down to derived rows
package store
