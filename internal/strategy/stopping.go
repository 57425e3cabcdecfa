package strategy

import (
	"fmt"
	"strings"

	"github.com/roach88/psyserve/internal/config"
)

// Progress is the data a stopping rule may consult. Every field is
// derivable from stored trials.
type Progress struct {
	// Tells is the number of trials recorded under this sub-strategy.
	Tells int

	// TotalTells is the number of trials recorded in the experiment.
	TotalTells int

	// BinaryCounts holds, per binary outcome channel, how many visible
	// observations scored 0 and 1.
	BinaryCounts [][2]int
}

// StoppingRule decides when a sub-strategy is done. Rules must be
// monotone: once done, more observations never make them undone.
type StoppingRule interface {
	Done(p Progress) bool
	String() string
}

// TrialCount is done after N trials recorded under the sub-strategy.
type TrialCount struct{ N int }

func (r TrialCount) Done(p Progress) bool { return p.Tells >= r.N }
func (r TrialCount) String() string       { return fmt.Sprintf("min_asks=%d", r.N) }

// MinTotalTells is done once the experiment holds N trials in total.
type MinTotalTells struct{ N int }

func (r MinTotalTells) Done(p Progress) bool { return p.TotalTells >= r.N }
func (r MinTotalTells) String() string       { return fmt.Sprintf("min_total_tells=%d", r.N) }

// OutcomeOccurrences is done once every binary outcome channel has seen
// both responses at least N times.
type OutcomeOccurrences struct{ N int }

func (r OutcomeOccurrences) Done(p Progress) bool {
	for _, c := range p.BinaryCounts {
		if c[0] < r.N || c[1] < r.N {
			return false
		}
	}
	return true
}

func (r OutcomeOccurrences) String() string {
	return fmt.Sprintf("min_outcome_occurrences=%d", r.N)
}

// MaxAsks caps a sub-strategy at N trials regardless of other rules.
type MaxAsks struct{ N int }

func (r MaxAsks) Done(p Progress) bool { return p.Tells >= r.N }
func (r MaxAsks) String() string       { return fmt.Sprintf("max_asks=%d", r.N) }

// AllOf is done when every rule is done.
type AllOf []StoppingRule

func (r AllOf) Done(p Progress) bool {
	for _, rule := range r {
		if !rule.Done(p) {
			return false
		}
	}
	return true
}

func (r AllOf) String() string { return joinRules(r, " and ") }

// AnyOf is done when any rule is done.
type AnyOf []StoppingRule

func (r AnyOf) Done(p Progress) bool {
	for _, rule := range r {
		if rule.Done(p) {
			return true
		}
	}
	return false
}

func (r AnyOf) String() string { return joinRules(r, " or ") }

func joinRules(rules []StoppingRule, sep string) string {
	parts := make([]string, len(rules))
	for i, rule := range rules {
		parts[i] = rule.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// NewStoppingRule builds the policy of a sub-strategy: done when max_asks
// is reached, or when every configured minimum is met.
func NewStoppingRule(sc config.StrategyConfig) StoppingRule {
	var mins AllOf
	if sc.MinAsks > 0 {
		mins = append(mins, TrialCount{N: sc.MinAsks})
	}
	if sc.MinTotalTells > 0 {
		mins = append(mins, MinTotalTells{N: sc.MinTotalTells})
	}
	if sc.MinOutcomeOccurrences > 0 {
		mins = append(mins, OutcomeOccurrences{N: sc.MinOutcomeOccurrences})
	}

	switch {
	case sc.MaxAsks > 0 && len(mins) > 0:
		return AnyOf{MaxAsks{N: sc.MaxAsks}, mins}
	case sc.MaxAsks > 0:
		return MaxAsks{N: sc.MaxAsks}
	case len(mins) == 1:
		return mins[0]
	default:
		return mins
	}
}
