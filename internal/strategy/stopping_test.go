package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/psyserve/internal/config"
)

func TestStoppingRules(t *testing.T) {
	tests := []struct {
		name string
		rule StoppingRule
		p    Progress
		want bool
	}{
		{"trial count below", TrialCount{N: 3}, Progress{Tells: 2}, false},
		{"trial count reached", TrialCount{N: 3}, Progress{Tells: 3}, true},
		{"total tells", MinTotalTells{N: 5}, Progress{Tells: 0, TotalTells: 5}, true},
		{"occurrences missing zeros", OutcomeOccurrences{N: 1}, Progress{BinaryCounts: [][2]int{{0, 4}}}, false},
		{"occurrences met", OutcomeOccurrences{N: 1}, Progress{BinaryCounts: [][2]int{{1, 4}}}, true},
		{"max asks", MaxAsks{N: 2}, Progress{Tells: 2}, true},
		{"all of partial", AllOf{TrialCount{N: 1}, MinTotalTells{N: 9}}, Progress{Tells: 1, TotalTells: 1}, false},
		{"any of cap", AnyOf{MaxAsks{N: 1}, TrialCount{N: 5}}, Progress{Tells: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Done(tt.p))
		})
	}
}

func TestNewStoppingRule_Composition(t *testing.T) {
	rule := NewStoppingRule(config.StrategyConfig{MinAsks: 3})
	assert.Equal(t, "min_asks=3", rule.String())

	rule = NewStoppingRule(config.StrategyConfig{MinAsks: 3, MinTotalTells: 10, MaxAsks: 20})
	assert.Equal(t, "(max_asks=20 or (min_asks=3 and min_total_tells=10))", rule.String())
	assert.True(t, rule.Done(Progress{Tells: 20}))
	assert.False(t, rule.Done(Progress{Tells: 5, TotalTells: 9}))
	assert.True(t, rule.Done(Progress{Tells: 5, TotalTells: 10}))
}
