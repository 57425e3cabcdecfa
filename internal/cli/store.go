package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/psyserve/internal/store"
)

// addDBFlag registers the required --db flag.
func addDBFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
}

// openExistingStore opens a database that must already exist. Commands
// that only inspect data should not create an empty database by accident.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
		}
		return nil, WrapExitError(ExitCommandError, "failed to stat database", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// notFound reports an unknown experiment.
func notFound(f *OutputFormatter, id string) error {
	msg := fmt.Sprintf("experiment not found: %s", id)
	if f.Format == "json" {
		if err := f.Error(CodeNotFound, msg, nil); err != nil {
			return err
		}
	}
	return NewExitError(ExitCommandError, msg)
}
