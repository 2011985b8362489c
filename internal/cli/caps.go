package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/s3k/internal/harness"
)

// CapsResult is the JSON output of the caps command.
type CapsResult struct {
	Scenario string   `json:"scenario"`
	Pass     bool     `json:"pass"`
	Lists    string   `json:"lists"`
	Errors   []string `json:"errors,omitempty"`
}

// NewCapsCommand creates the caps command.
func NewCapsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caps <scenario.yaml>",
		Short: "Print the derivation lists after a scenario",
		Long: `Run a scenario and print every derivation list of the final kernel.

Each root capability is printed with its descendants below it in list
order. The lists are printed even when the scenario fails, in which
case the command exits with status 1.

Examples:
  s3k caps ./scenarios/time_delegation.yaml
  s3k caps ./scenarios/derive_memory.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCaps(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runCaps(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "scenario not found", err)
	}
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), path)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := harness.RunContext(ctx, scenario)
	if err != nil {
		_ = formatter.Error(ErrCodeKernel, err.Error(), scenario.Name)
		return WrapExitError(ExitFailure, "scenario execution failed", err)
	}

	lists := harness.DerivationLists(result.Kernel)
	if formatter.JSON() {
		if err := formatter.Success(CapsResult{
			Scenario: scenario.Name,
			Pass:     result.Pass,
			Lists:    lists,
			Errors:   result.Errors,
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprint(formatter.Writer, lists)
		for _, e := range result.Errors {
			fmt.Fprintf(formatter.GetErrWriter(), "  %s\n", e)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}
