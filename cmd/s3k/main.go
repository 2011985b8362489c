// Command s3k validates boards, runs them on the simulator, and checks
// kernel scenarios against golden traces.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/s3k/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
