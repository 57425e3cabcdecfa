package engine

import (
	"encoding/json"

	"github.com/roach88/psyserve/internal/config"
	"github.com/roach88/psyserve/internal/strategy"
)

// Protocol versions accepted by HandleVersioned. The last entry is the
// version assumed by HandleUnversioned.
var SupportedVersions = []string{"0.01", "0.1"}

// Query types.
const (
	QueryPrediction = "prediction"
	QuerySample     = "sample"
)

// SetupReply answers setup.
type SetupReply struct {
	ExperimentID string `json:"experiment_id"`
	ConfigHash   string `json:"config_hash"`
	Strategies   int    `json:"strategies"`
	Finished     bool   `json:"finished"`
}

// TellReply answers tell.
type TellReply struct {
	TrialID       int64 `json:"trial_id"`
	StrategyIndex int   `json:"strategy_index"`
	Finished      bool  `json:"finished"`
}

// ResumeMessage is the payload of resume.
type ResumeMessage struct {
	ExperimentID string `json:"experiment_id"`
}

// ResumeReply answers resume.
type ResumeReply struct {
	ExperimentID string `json:"experiment_id"`
	Trials       int    `json:"trials"`
	Strategy     int    `json:"strategy"`
	Finished     bool   `json:"finished"`
}

// ExitReply answers exit.
type ExitReply struct {
	ExperimentID string `json:"experiment_id,omitempty"`
	Completed    bool   `json:"completed"`
}

// InfoReply answers info and is also returned by Engine.Status.
type InfoReply struct {
	ExperimentID string            `json:"experiment_id"`
	ConfigHash   string            `json:"config_hash"`
	Trials       int               `json:"trials"`
	Strategy     int               `json:"strategy"`
	Finished     bool              `json:"finished"`
	StrictTells  bool              `json:"strict_tells"`
	Strategies   []strategy.Status `json:"strategies"`
}

// GetConfigReply answers get_config.
type GetConfigReply struct {
	ConfigStr string                   `json:"config_str"`
	Config    *config.ExperimentConfig `json:"config"`
}

// CanModelReply answers can_model.
type CanModelReply struct {
	CanModel bool `json:"can_model"`
}

// QueryMessage is the payload of query. Points use the same shape as a
// tell config.
type QueryMessage struct {
	QueryType        string                       `json:"query_type"`
	Points           []map[string]json.RawMessage `json:"points"`
	ProbabilitySpace bool                         `json:"probability_space"`
	NumSamples       int                          `json:"num_samples"`
}

// PredictionReply answers a prediction query.
type PredictionReply struct {
	Mean     []float64 `json:"mean"`
	Variance []float64 `json:"variance"`
}

// SampleReply answers a sample query. Rows are samples; columns follow
// the order of the query points.
type SampleReply struct {
	Samples [][]float64 `json:"samples"`
}
