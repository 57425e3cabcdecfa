package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/psyserve/internal/store"
	"github.com/roach88/psyserve/internal/table"
)

// Table encodings.
const (
	TableCSV  = "csv"
	TableJSON = "json"
)

// TableOptions holds flags for the table command.
type TableOptions struct {
	*RootOptions
	Database string
	Output   string // file path; stdout if empty
	Encoding string // csv | json
}

// NewTableCommand creates the table command.
func NewTableCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TableOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "table <experiment-id>",
		Short: "Reconstruct the experiment table",
		Long: `Rebuild the one-row-per-trial experiment table from the stored trials.

The table has trial_id, timestamp and strategy columns, one column per
metadata key, one per parameter (and stimulus index when a trial shows
several stimuli), and one per outcome channel. Reading never modifies
the database, and the server may keep recording trials meanwhile.

Examples:
  psyserve table --db ./trials.db 0192f7a0-...
  psyserve table --db ./trials.db 0192f7a0-... --table-format json --out table.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTable(opts, args[0], cmd)
		},
	}

	addDBFlag(cmd, &opts.Database)
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "write the table to a file instead of stdout")
	cmd.Flags().StringVar(&opts.Encoding, "table-format", TableCSV, "table encoding (csv|json)")

	return cmd
}

func runTable(opts *TableOptions, id string, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(cmd, opts.RootOptions)

	if opts.Encoding != TableCSV && opts.Encoding != TableJSON {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid table format %q: must be csv or json", opts.Encoding))
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read database", err)
	}
	defer snap.Close()

	tbl, err := table.Generate(ctx, snap, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(f, id)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to generate table", err)
	}
	f.VerboseLog("%s: %d rows, %d columns", id, len(tbl.Rows), len(tbl.Columns))

	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		file, err := os.Create(opts.Output)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output file", err)
		}
		defer file.Close()
		w = file
	}

	if opts.Encoding == TableJSON {
		err = tbl.WriteJSON(w)
	} else {
		err = tbl.WriteCSV(w)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to write table", err)
	}

	if opts.Output != "" {
		f.VerboseLog("wrote %s", opts.Output)
	}
	return nil
}
