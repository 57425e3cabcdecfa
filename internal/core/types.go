package core

import (
	"encoding/json"
	"time"
)

// Message types understood by the dispatcher.
const (
	MessageSetup     = "setup"
	MessageAsk       = "ask"
	MessageTell      = "tell"
	MessageResume    = "resume"
	MessageExit      = "exit"
	MessageInfo      = "info"
	MessageGetConfig = "get_config"
	MessageCanModel  = "can_model"
	MessageQuery     = "query"
)

// Request is one incoming protocol message.
//
// Message is kept raw because its shape depends on Type: an object for
// setup and tell, an empty string for ask.
type Request struct {
	Type      string          `json:"type"`
	Version   string          `json:"version,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	ExtraInfo map[string]any  `json:"extra_info,omitempty"`
}

// Response is the reply payload returned to the client. Handlers return
// concrete structs; the transport only needs it to be JSON encodable.
type Response any

// ErrorReply is the payload sent back when a handler fails.
type ErrorReply struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error code and message of a failed request.
type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// SetupMessage is the payload of a setup request.
type SetupMessage struct {
	ConfigStr string `json:"config_str"`
}

// TellMessage is the payload of a tell request. Config values and the
// outcome may each be a scalar or a sequence; see DecodeConfig and
// DecodeValues.
type TellMessage struct {
	Config    map[string]json.RawMessage `json:"config"`
	Outcome   json.RawMessage            `json:"outcome"`
	ExtraInfo map[string]any             `json:"extra_info,omitempty"`
}

// MergeExtraInfo combines extra_info sent inside a tell message with the
// request-level extra_info. Request-level keys win on conflict. It returns
// nil when both are empty.
func MergeExtraInfo(message, request map[string]any) map[string]any {
	if len(message) == 0 {
		return request
	}
	if len(request) == 0 {
		return message
	}
	out := make(map[string]any, len(message)+len(request))
	for k, v := range message {
		out[k] = v
	}
	for k, v := range request {
		out[k] = v
	}
	return out
}

// Experiment is the master record created by setup.
type Experiment struct {
	ID              string    `json:"experiment_id"`
	CreatedAt       time.Time `json:"created_at"`
	Config          string    `json:"config"`
	ConfigHash      string    `json:"config_hash"`
	Parameters      []string  `json:"parameters"`
	StimuliPerTrial int       `json:"stimuli_per_trial"`
	OutcomeCount    int       `json:"outcome_count"`
	Completed       bool      `json:"completed"`
}

// RawTrial is one accepted tell.
type RawTrial struct {
	ExperimentID  string         `json:"experiment_id"`
	TrialID       int64          `json:"trial_id"`
	StrategyIndex int            `json:"strategy_index"`
	CreatedAt     time.Time      `json:"created_at"`
	Metadata      map[string]any `json:"metadata"`
}

// ParameterRecord is one (trial, parameter, stimulus) value.
type ParameterRecord struct {
	TrialID       int64   `json:"trial_id"`
	Name          string  `json:"name"`
	StimulusIndex int     `json:"stimulus_index"`
	Value         float64 `json:"value"`
}

// OutcomeRecord is one (trial, outcome channel) value.
type OutcomeRecord struct {
	TrialID      int64   `json:"trial_id"`
	OutcomeIndex int     `json:"outcome_index"`
	Value        float64 `json:"value"`
}

// Stimuli maps a parameter name to one value per stimulus index.
type Stimuli map[string][]float64

// Clone returns a deep copy of s.
func (s Stimuli) Clone() Stimuli {
	out := make(Stimuli, len(s))
	for k, v := range s {
		out[k] = append([]float64(nil), v...)
	}
	return out
}
