package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/s3k/internal/config"
	"github.com/roach88/s3k/internal/sim"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Path     string            `json:"path"`
	Hash     string            `json:"hash,omitempty"`
	Harts    int               `json:"harts,omitempty"`
	Procs    int               `json:"procs,omitempty"`
	Quanta   int               `json:"quanta,omitempty"`
	Channels int               `json:"channels,omitempty"`
	Regions  int               `json:"regions,omitempty"`
	Programs []string          `json:"programs,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one problem found in a board file.
type ValidationError struct {
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <board.yaml>",
		Short: "Validate a board file without booting it",
		Long: `Validate a board file against the board schema.

Checks YAML syntax and unknown keys, schema constraints and defaults,
the kernel's sizing rules and the program plan, then prints the board's
content hash.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeConfig, fmt.Sprintf("board file not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "board file not found", err)
	}

	formatter.VerboseLog("Validating %s", path)
	b, err := config.LoadFile(path)
	if err != nil {
		return outputValidationError(formatter, path, err)
	}
	if _, err := sim.Programs(b); err != nil {
		return outputValidationError(formatter, path, fmt.Errorf("programs: %w", err))
	}
	hash, err := b.Hash()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to hash board", err)
	}

	result := ValidationResult{
		Valid:    true,
		Path:     path,
		Hash:     hash,
		Harts:    b.Harts,
		Procs:    b.Procs,
		Quanta:   b.Quanta,
		Channels: b.Channels,
		Regions:  len(b.Memory),
	}
	for _, p := range b.Programs {
		result.Programs = append(result.Programs, fmt.Sprintf("%d:%s", p.PID, p.Name))
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  harts %d, procs %d, quanta %d, channels %d, regions %d\n",
		result.Harts, result.Procs, result.Quanta, result.Channels, result.Regions)
	for _, p := range result.Programs {
		fmt.Fprintf(w, "  program %s\n", p)
	}
	fmt.Fprintf(w, "  hash %s\n", result.Hash)
	return nil
}

func outputValidationError(formatter *OutputFormatter, path string, err error) error {
	verr := ValidationError{Message: err.Error()}
	var ce *config.Error
	if errors.As(err, &ce) {
		verr = ValidationError{Line: ce.Line, Message: ce.Message}
	}

	if formatter.JSON() {
		if encErr := formatter.encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Path: path, Errors: []ValidationError{verr}},
			Error:  &CLIError{Code: ErrCodeConfig, Message: "invalid board"},
		}); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %s\n", path)
		if verr.Line > 0 {
			fmt.Fprintf(formatter.Writer, "  line %d: %s\n", verr.Line, verr.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s\n", verr.Message)
		}
	}
	return WrapExitError(ExitFailure, "invalid board", err)
}
