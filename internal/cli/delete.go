package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/psyserve/internal/store"
)

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
	Database string
	All      bool
}

// DeleteResult lists the experiments removed.
type DeleteResult struct {
	Deleted []string `json:"deleted"`
}

func (r DeleteResult) String() string {
	switch len(r.Deleted) {
	case 0:
		return "Nothing to delete."
	case 1:
		return fmt.Sprintf("Deleted experiment %s.", r.Deleted[0])
	default:
		return fmt.Sprintf("Deleted %d experiments.", len(r.Deleted))
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete [experiment-id]",
		Short: "Delete stored experiments",
		Long: `Irreversibly remove an experiment and all of its trials, or every
experiment with --all.

Examples:
  psyserve delete --db ./trials.db 0192f7a0-...
  psyserve delete --db ./trials.db --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.All && len(args) > 0 {
				return errors.New("cannot combine --all with an experiment id")
			}
			if !opts.All && len(args) != 1 {
				return errors.New("requires an experiment id or --all")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args, cmd)
		},
	}

	addDBFlag(cmd, &opts.Database)
	cmd.Flags().BoolVar(&opts.All, "all", false, "delete every experiment")

	return cmd
}

func runDelete(opts *DeleteOptions, args []string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(cmd, opts.RootOptions)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	result := DeleteResult{Deleted: []string{}}

	if opts.All {
		exps, err := st.ListExperiments(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list experiments", err)
		}
		if err := st.DeleteAll(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to delete experiments", err)
		}
		for _, e := range exps {
			result.Deleted = append(result.Deleted, e.ID)
		}
		return f.Success(result)
	}

	id := args[0]
	err = st.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(f, id)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to delete experiment", err)
	}
	result.Deleted = append(result.Deleted, id)
	f.VerboseLog("deleted %s", id)
	return f.Success(result)
}
