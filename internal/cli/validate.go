package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/flux/internal/harness"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                   `json:"valid"`
	Scenario    string                 `json:"scenario"`
	Subscribers int                    `json:"subscribers"`
	Steps       int                    `json:"steps"`
	Warnings    []harness.CycleWarning `json:"warnings"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario>",
		Short: "Validate a scenario without running it",
		Long: `Validate a YAML or CUE scenario without running it.

Checks the schema, name references and expected error codes, then reports
wait_for cycles as warnings. A cycle is not an error: "on" filters can keep
its members apart at runtime.

Exit codes:
  0 - Scenario is valid
  1 - Scenario failed to parse or validate
  2 - Scenario file not found`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	scenario, err := LoadScenario(path)
	if err != nil {
		return reportLoadError(formatter, err, ExitFailure)
	}

	result := ValidationResult{
		Valid:       true,
		Scenario:    scenario.Name,
		Subscribers: len(scenario.Subscribers),
		Steps:       len(scenario.Steps),
		Warnings:    harness.AnalyzeCycles(scenario),
	}
	formatter.VerboseLog("Found %d wait_for cycle(s)", len(result.Warnings))

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid (%d subscribers, %d steps)\n",
			result.Scenario, result.Subscribers, result.Steps)
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "⚠ %s\n", warning.Message)
		}
	})
}
