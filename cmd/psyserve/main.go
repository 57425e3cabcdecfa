// Command psyserve runs the adaptive psychophysics experiment server and
// its maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/psyserve/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
