package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/psyserve/internal/core"
)

// traceTail is how many trailing requests an AssertionError prints.
const traceTail = 6

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Expectation name
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Requests sent, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	trace := e.Trace
	if len(trace) > traceTail {
		trace = trace[len(trace)-traceTail:]
	}
	if len(trace) > 0 {
		fmt.Fprintf(&buf, "\nLast requests:\n")
	}
	for _, ev := range trace {
		if ev.Error != "" {
			fmt.Fprintf(&buf, "  [%d] %s -> %s\n", ev.Seq, ev.Type, ev.Error)
		} else {
			fmt.Fprintf(&buf, "  [%d] %s -> ok\n", ev.Seq, ev.Type)
		}
	}

	return buf.String()
}

// EvaluateExpectations checks every set expectation against result.
func EvaluateExpectations(result *Result, expect Expectations) []error {
	var errs []error
	fail := func(typ, expected, actual string) {
		errs = append(errs, &AssertionError{Type: typ, Expected: expected, Actual: actual, Trace: result.Trace})
	}

	if expect.TrialCount != nil && *expect.TrialCount != result.TrialCount {
		fail("trial_count", fmt.Sprint(*expect.TrialCount), fmt.Sprint(result.TrialCount))
	}
	if expect.ParameterRows != nil && *expect.ParameterRows != result.ParameterRows {
		fail("parameter_rows", fmt.Sprint(*expect.ParameterRows), fmt.Sprint(result.ParameterRows))
	}
	if expect.OutcomeRows != nil && *expect.OutcomeRows != result.OutcomeRows {
		fail("outcome_rows", fmt.Sprint(*expect.OutcomeRows), fmt.Sprint(result.OutcomeRows))
	}
	if expect.Finished != nil && *expect.Finished != result.Finished {
		fail("finished", fmt.Sprint(*expect.Finished), fmt.Sprint(result.Finished))
	}

	if expect.ColumnNames != nil && result.Table != nil && !slices.Equal(expect.ColumnNames, result.Table.Columns) {
		fail("column_names", fmt.Sprint(expect.ColumnNames), fmt.Sprint(result.Table.Columns))
	}

	for _, name := range core.SortedKeys(expect.Columns) {
		want := expect.Columns[name]
		if result.Table == nil {
			fail("columns", name, "no table")
			continue
		}
		got, ok := result.Table.Column(name)
		if !ok {
			fail("columns", fmt.Sprintf("column %q", name), fmt.Sprintf("columns %v", result.Table.Columns))
			continue
		}
		if err := compareColumn(want, got); err != "" {
			fail("columns", fmt.Sprintf("%s = %v", name, want), fmt.Sprintf("%s = %v (%s)", name, got, err))
		}
	}

	return errs
}

// compareColumn returns a description of the first mismatch, or "".
func compareColumn(want, got []any) string {
	if len(want) != len(got) {
		return fmt.Sprintf("%d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if !valuesEqual(want[i], got[i]) {
			return fmt.Sprintf("row %d: %v != %v", i, got[i], want[i])
		}
	}
	return ""
}

// valuesEqual compares numbers by value regardless of their Go type, and
// everything else by its printed form.
func valuesEqual(want, got any) bool {
	wf, wok := toFloat(want)
	gf, gok := toFloat(got)
	if wok || gok {
		return wok && gok && wf == gf
	}
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	return fmt.Sprint(want) == fmt.Sprint(got)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}
