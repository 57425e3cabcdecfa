package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Database string
}

// ExperimentSummary is one line of list output.
type ExperimentSummary struct {
	ID              string      `json:"experiment_id"`
	CreatedAt       time.Time   `json:"created_at"`
	ConfigHash      string      `json:"config_hash"`
	Parameters      []string    `json:"parameters"`
	StimuliPerTrial int         `json:"stimuli_per_trial"`
	OutcomeCount    int         `json:"outcome_count"`
	Trials          int         `json:"trials"`
	StrategyTrials  map[int]int `json:"strategy_trials"`
	Completed       bool        `json:"completed"`
}

// ListResult holds all experiments in the store.
type ListResult struct {
	Experiments []ExperimentSummary `json:"experiments"`
}

// String renders the text form as an aligned table.
func (r ListResult) String() string {
	if len(r.Experiments) == 0 {
		return "No experiments found."
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXPERIMENT\tCREATED\tTRIALS\tSTIMULI\tOUTCOMES\tCOMPLETED\tPARAMETERS")
	for _, e := range r.Experiments {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%t\t%s\n",
			e.ID, e.CreatedAt.Format(time.RFC3339), e.Trials, e.StimuliPerTrial,
			e.OutcomeCount, e.Completed, strings.Join(e.Parameters, ","))
	}
	tw.Flush()
	return strings.TrimSuffix(b.String(), "\n")
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored experiments",
		Long: `List every experiment in the database, oldest first, with its
trial count and declared shape.

Examples:
  psyserve list --db ./trials.db
  psyserve list --db ./trials.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	addDBFlag(cmd, &opts.Database)
	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(cmd, opts.RootOptions)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	exps, err := st.ListExperiments(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list experiments", err)
	}

	result := ListResult{Experiments: make([]ExperimentSummary, 0, len(exps))}
	for _, e := range exps {
		n, err := st.GetTrialCount(ctx, e.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count trials", err)
		}
		byStrategy, err := st.CountTrialsByStrategy(ctx, e.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count trials", err)
		}
		result.Experiments = append(result.Experiments, ExperimentSummary{
			ID:              e.ID,
			CreatedAt:       e.CreatedAt,
			ConfigHash:      e.ConfigHash,
			Parameters:      e.Parameters,
			StimuliPerTrial: e.StimuliPerTrial,
			OutcomeCount:    e.OutcomeCount,
			Trials:          n,
			StrategyTrials:  byStrategy,
			Completed:       e.Completed,
		})
		f.VerboseLog("%s: %d trials", e.ID, n)
	}

	return f.Success(result)
}
