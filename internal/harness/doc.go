// Package harness runs experiment scenarios end to end against the real
// dispatcher and trial store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: single_stimulus
//	description: "Two parameters, one outcome, seven trials"
//	config: |
//	  parameters: [{name: "x1", lower_bound: 0, upper_bound: 4}]
//	  strategies: [{min_asks: 7}]
//	trials:
//	  - config: {x1: [0.1]}
//	    outcome: 1
//	    extra_info: {e1: 1}
//	expect:
//	  trial_count: 7
//	  finished: true
//	  columns:
//	    x1: [0.1, ...]
//
// config_file may replace config; it is resolved relative to the scenario
// file. Each trial is preceded by an ask unless skip_ask is set, and a
// trial may name the error code its tell must fail with (expect_error).
// The harness stops telling once the experiment reports finished; unused
// trials are a failure.
//
// # Expectations
//
//   - trial_count, parameter_rows, outcome_rows: row counts in the store
//   - finished: sequencer state after the last tell
//   - column_names: exact column list of the reconstructed table
//   - columns: expected values per table column, compared numerically
//     where both sides are numbers
//   - ask_after_finish_error: error code of one extra ask after the last trial
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory store, a step clock starting at
// testutil.DefaultEpoch, and a fixed experiment id, so the reconstructed
// table of a scenario is byte-identical across runs. RunWithGolden
// compares that table, as CSV, against testdata/golden/{name}.golden.
package harness
