package harness

import (
	"github.com/roach88/psyserve/internal/table"
)

// TraceEvent records one request sent to the dispatcher.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Type    string `json:"type"`
	Message any    `json:"message,omitempty"`
	Reply   any    `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expectation matched.
	Pass bool `json:"pass"`

	ExperimentID  string `json:"experiment_id"`
	Finished      bool   `json:"finished"`
	TrialCount    int    `json:"trial_count"`
	ParameterRows int    `json:"parameter_rows"`
	OutcomeRows   int    `json:"outcome_rows"`

	// Trace contains every request in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Table is the reconstructed experiment table.
	Table *table.Table `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(typ string, message, reply any, err error) {
	ev := TraceEvent{Seq: len(r.Trace) + 1, Type: typ, Message: message, Reply: reply}
	if err != nil {
		ev.Error = err.Error()
	}
	r.Trace = append(r.Trace, ev)
}
