package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/psyserve/internal/core"
)

// Scenario defines one experiment run and what it must produce.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the experiment config_str sent with setup.
	Config string `yaml:"config,omitempty"`

	// ConfigFile is read into Config when Config is empty. Relative
	// paths are resolved against the scenario file's directory.
	ConfigFile string `yaml:"config_file,omitempty"`

	// Version is the protocol version of the setup request.
	// Defaults to "0.01".
	Version string `yaml:"version,omitempty"`

	// StrictTells rejects tells without a preceding ask.
	StrictTells bool `yaml:"strict_tells,omitempty"`

	// ExperimentID is the fixed id given to the experiment.
	ExperimentID string `yaml:"experiment_id,omitempty"`

	// Trials are told in order until the experiment finishes.
	Trials []TrialStep `yaml:"trials"`

	// Expect validates the final store and table.
	Expect Expectations `yaml:"expect"`
}

// TrialStep is one ask/tell round.
type TrialStep struct {
	// Config maps parameter names to a value or one value per stimulus.
	Config map[string]any `yaml:"config"`

	// Outcome is a value or one value per outcome channel.
	Outcome any `yaml:"outcome"`

	// ExtraInfo is stored as trial metadata.
	ExtraInfo map[string]any `yaml:"extra_info,omitempty"`

	// SkipAsk sends the tell without asking first.
	SkipAsk bool `yaml:"skip_ask,omitempty"`

	// ExpectError is the error code the tell must fail with. A rejected
	// trial is not recorded and does not advance the experiment.
	ExpectError core.ErrorCode `yaml:"expect_error,omitempty"`
}

// Expectations are checked after all trials ran. Unset fields are not
// checked.
type Expectations struct {
	TrialCount          *int             `yaml:"trial_count,omitempty"`
	ParameterRows       *int             `yaml:"parameter_rows,omitempty"`
	OutcomeRows         *int             `yaml:"outcome_rows,omitempty"`
	Finished            *bool            `yaml:"finished,omitempty"`
	ColumnNames         []string         `yaml:"column_names,omitempty"`
	Columns             map[string][]any `yaml:"columns,omitempty"`
	AskAfterFinishError core.ErrorCode   `yaml:"ask_after_finish_error,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "trial:" vs "trials:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Config == "" && scenario.ConfigFile != "" {
		cfgPath := scenario.ConfigFile
		if !filepath.IsAbs(cfgPath) {
			cfgPath = filepath.Join(filepath.Dir(path), cfgPath)
		}
		cfg, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		scenario.Config = string(cfg)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, ordered by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// validateScenario checks required fields.
func validateScenario(s *Scenario) error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.Config == "" {
		errs = append(errs, errors.New("config or config_file is required"))
	}
	if len(s.Trials) == 0 {
		errs = append(errs, errors.New("at least one trial is required"))
	}
	for i, tr := range s.Trials {
		if len(tr.Config) == 0 {
			errs = append(errs, fmt.Errorf("trials[%d]: config is required", i))
		}
		if tr.Outcome == nil {
			errs = append(errs, fmt.Errorf("trials[%d]: outcome is required", i))
		}
	}
	return errors.Join(errs...)
}
