package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"

	"github.com/roach88/psyserve/internal/core"
)

//go:embed schema.cue
var schemaCUE string

// Generator names.
const (
	GeneratorRandom   = "random"
	GeneratorManual   = "manual"
	GeneratorOptimize = "optimize"
)

// Acquisition names understood by the optimize generator.
const (
	AcquisitionVariance = "variance"
	AcquisitionMean     = "mean"
)

// OutcomeBinary is the outcome type counted by min_outcome_occurrences.
const OutcomeBinary = "binary"

// DefaultModel is used by optimize strategies that name no model.
const DefaultModel = "kernel"

// Parameter is one named stimulus dimension and its search bounds.
type Parameter struct {
	Name       string  `json:"name"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
}

// StrategyConfig describes one sub-strategy.
type StrategyConfig struct {
	Name      string `json:"name"`
	Generator string `json:"generator"`
	Model     string `json:"model,omitempty"`

	MinAsks               int `json:"min_asks"`
	MinTotalTells         int `json:"min_total_tells"`
	MinOutcomeOccurrences int `json:"min_outcome_occurrences"`
	MaxAsks               int `json:"max_asks,omitempty"`

	RefitEvery    int            `json:"refit_every"`
	UseAllData    bool           `json:"use_all_data"`
	Seed          int64          `json:"seed"`
	Points        []core.Stimuli `json:"points,omitempty"`
	NumCandidates int            `json:"num_candidates"`
	Acquisition   string         `json:"acquisition"`
}

// ExperimentConfig is a parsed and validated setup configuration.
// Values are shared through Cache and must not be mutated.
type ExperimentConfig struct {
	Parameters      []Parameter      `json:"parameters"`
	StimuliPerTrial int              `json:"stimuli_per_trial"`
	Outcomes        []string         `json:"outcomes"`
	Strategies      []StrategyConfig `json:"strategies"`
	StrictTells     *bool            `json:"strict_tells,omitempty"`

	// Source is the config_str exactly as received.
	Source string `json:"-"`
}

// ParameterNames returns the declared parameter names in declaration order.
func (c *ExperimentConfig) ParameterNames() []string {
	names := make([]string, len(c.Parameters))
	for i, p := range c.Parameters {
		names[i] = p.Name
	}
	return names
}

// OutcomeCount is the number of outcome channels per trial.
func (c *ExperimentConfig) OutcomeCount() int {
	return len(c.Outcomes)
}

// Hash identifies the configuration source.
func (c *ExperimentConfig) Hash() string {
	return core.ConfigHash(c.Source)
}

// wireStrategy mirrors StrategyConfig with points left raw so each point
// goes through the same shape decoding as a tell config.
type wireStrategy struct {
	StrategyConfig
	Points []map[string]json.RawMessage `json:"points,omitempty"`
}

type wireExperiment struct {
	Parameters      []Parameter    `json:"parameters"`
	StimuliPerTrial int            `json:"stimuli_per_trial"`
	Outcomes        []string       `json:"outcomes"`
	Strategies      []wireStrategy `json:"strategies"`
	StrictTells     *bool          `json:"strict_tells,omitempty"`
}

// ParseExperiment parses a setup config_str.
func ParseExperiment(configStr string) (*ExperimentConfig, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Experiment"))

	user := ctx.CompileString(configStr, cue.Filename("config_str"))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := def.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var wire wireExperiment
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return nil, &Error{Field: "config", Message: err.Error()}
	}

	cfg := &ExperimentConfig{
		Parameters:      wire.Parameters,
		StimuliPerTrial: wire.StimuliPerTrial,
		Outcomes:        wire.Outcomes,
		Strategies:      make([]StrategyConfig, len(wire.Strategies)),
		StrictTells:     wire.StrictTells,
		Source:          configStr,
	}
	for i, ws := range wire.Strategies {
		sc := ws.StrategyConfig
		for j, raw := range ws.Points {
			point, err := core.DecodeConfig(raw)
			if err != nil {
				return nil, &Error{
					Field:   fmt.Sprintf("strategies[%d].points[%d]", i, j),
					Message: err.Error(),
					Pos:     posOf(v, fmt.Sprintf("strategies[%d].points[%d]", i, j)),
				}
			}
			sc.Points = append(sc.Points, point)
		}
		cfg.Strategies[i] = sc
	}

	if err := validate(cfg, v); err != nil {
		return nil, err
	}
	return cfg, nil
}

func posOf(v cue.Value, path string) token.Pos {
	return v.LookupPath(cue.ParsePath(path)).Pos()
}

// validate checks the cross-field rules the schema cannot express.
func validate(cfg *ExperimentConfig, v cue.Value) error {
	if len(cfg.Outcomes) == 0 {
		return &Error{Field: "outcomes", Message: "at least one outcome is required", Pos: posOf(v, "outcomes")}
	}

	seen := make(map[string]bool, len(cfg.Parameters))
	for i := range cfg.Parameters {
		p := &cfg.Parameters[i]
		field := fmt.Sprintf("parameters[%d]", i)
		p.Name = core.NormalizeName(p.Name)
		if p.Name == "" {
			return &Error{Field: field, Message: "name is empty", Pos: posOf(v, field)}
		}
		if core.ReservedName(p.Name) {
			return &Error{Field: field, Message: fmt.Sprintf("parameter name %q is reserved for a table column", p.Name), Pos: posOf(v, field)}
		}
		if seen[p.Name] {
			return &Error{Field: field, Message: fmt.Sprintf("duplicate parameter %q", p.Name), Pos: posOf(v, field)}
		}
		seen[p.Name] = true
		if !(p.LowerBound < p.UpperBound) {
			return &Error{
				Field:   field,
				Message: fmt.Sprintf("lower_bound %v must be below upper_bound %v", p.LowerBound, p.UpperBound),
				Pos:     posOf(v, field),
			}
		}
	}

	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		field := fmt.Sprintf("strategies[%d]", i)
		if s.MinAsks == 0 && s.MinTotalTells == 0 && s.MinOutcomeOccurrences == 0 && s.MaxAsks == 0 {
			return &Error{Field: field, Message: "no stopping rule: set min_asks, min_total_tells, min_outcome_occurrences or max_asks", Pos: posOf(v, field)}
		}
		if s.MinOutcomeOccurrences > 0 && !hasBinary(cfg.Outcomes) {
			return &Error{Field: field, Message: "min_outcome_occurrences needs a binary outcome", Pos: posOf(v, field)}
		}
		if s.MaxAsks > 0 && s.MinAsks > s.MaxAsks {
			return &Error{Field: field, Message: fmt.Sprintf("min_asks %d exceeds max_asks %d", s.MinAsks, s.MaxAsks), Pos: posOf(v, field)}
		}
		switch s.Generator {
		case GeneratorManual:
			if len(s.Points) == 0 {
				return &Error{Field: field + ".points", Message: "manual generator needs at least one point", Pos: posOf(v, field)}
			}
			for j, point := range s.Points {
				if err := checkPoint(cfg, point); err != nil {
					f := fmt.Sprintf("%s.points[%d]", field, j)
					return &Error{Field: f, Message: err.Error(), Pos: posOf(v, f)}
				}
			}
		case GeneratorOptimize:
			if s.Model == "" {
				s.Model = DefaultModel
			}
		}
	}

	return nil
}

func hasBinary(outcomes []string) bool {
	for _, o := range outcomes {
		if o == OutcomeBinary {
			return true
		}
	}
	return false
}

// checkPoint verifies that a manual point names every parameter with one
// in-bounds value per stimulus.
func checkPoint(cfg *ExperimentConfig, point core.Stimuli) error {
	if len(point) != len(cfg.Parameters) {
		return fmt.Errorf("point names %d parameter(s), want %d", len(point), len(cfg.Parameters))
	}
	for _, p := range cfg.Parameters {
		values, ok := point[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.Name)
		}
		if len(values) != cfg.StimuliPerTrial {
			return fmt.Errorf("parameter %q: expected %d value(s), got %d", p.Name, cfg.StimuliPerTrial, len(values))
		}
		for _, x := range values {
			if x < p.LowerBound || x > p.UpperBound {
				return fmt.Errorf("parameter %q: %v outside [%v, %v]", p.Name, x, p.LowerBound, p.UpperBound)
			}
		}
	}
	return nil
}

// Cache memoizes parsed configurations by source hash. A resumed session
// and a table export of the same experiment share one parse.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*ExperimentConfig
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*ExperimentConfig)}
}

// Parse returns the cached configuration for configStr, parsing it on
// first use. Parse failures are not cached.
func (c *Cache) Parse(configStr string) (*ExperimentConfig, error) {
	key := core.ConfigHash(configStr)

	c.mu.Lock()
	cfg, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return cfg, nil
	}

	cfg, err := ParseExperiment(configStr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	c.entries[key] = cfg
	return cfg, nil
}

// Len reports the number of cached configurations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
