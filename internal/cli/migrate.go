package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/psyserve/internal/store"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Database string
}

// MigrateResult reports the schema version after migration.
type MigrateResult struct {
	Database      string `json:"database"`
	SchemaVersion int    `json:"schema_version"`
}

func (r MigrateResult) String() string {
	return fmt.Sprintf("%s: schema version %d", r.Database, r.SchemaVersion)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the trial database",
		Long: `Create the database if needed and apply pending schema migrations.

serve does the same on startup; migrate lets you prepare a database
ahead of time.

Examples:
  psyserve migrate --db ./trials.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	addDBFlag(cmd, &opts.Database)
	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	v, err := st.SchemaVersion(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read schema version", err)
	}
	return f.Success(MigrateResult{Database: opts.Database, SchemaVersion: v})
}
