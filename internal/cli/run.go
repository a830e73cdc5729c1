package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/flux/internal/harness"
	"github.com/roach88/flux/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Metrics   bool   // print Prometheus exposition after the run
	Namespace string // metric namespace
}

// RunSummary is the outcome of one scenario run.
type RunSummary struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Steps    []harness.StepResult `json:"steps"`
	Errors   []string             `json:"errors,omitempty"`
	Metrics  string               `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario against the engine",
		Long: `Run a YAML or CUE scenario against a fresh dispatch engine.

Every dispatch step is executed, expectations and assertions are checked and
the per-step completion order is printed.

Exit codes:
  0 - Scenario passed
  1 - Scenario failed
  2 - Command error (missing file, invalid scenario, etc.)

Examples:
  flux run ./scenarios/checkout.yaml
  flux run ./scenarios/cycle.cue --metrics
  flux run ./scenarios/checkout.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print Prometheus metrics for the run")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "flux", "metric namespace")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	scenario, err := LoadScenario(path)
	if err != nil {
		return reportLoadError(formatter, err, ExitCommandError)
	}
	formatter.VerboseLog("Loaded scenario %s: %d subscriber(s), %d step(s)",
		scenario.Name, len(scenario.Subscribers), len(scenario.Steps))

	hopts := []harness.Option{harness.WithLogger(logger)}

	var reg *prometheus.Registry
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		obs, err := metrics.New(reg, opts.Namespace)
		if err != nil {
			_ = formatter.Error(ErrCodeMetrics, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to register metrics", err)
		}
		hopts = append(hopts, harness.WithObserver(obs))
	}

	result, err := harness.Run(scenario, hopts...)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	summary := RunSummary{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Steps:    result.Steps,
		Errors:   result.Errors,
	}

	if reg != nil {
		text, err := exposition(reg)
		if err != nil {
			_ = formatter.Error(ErrCodeMetrics, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
		summary.Metrics = text
	}

	render := func(w io.Writer) { writeRunText(w, summary) }

	if !result.Pass {
		msg := fmt.Sprintf("scenario %s failed", scenario.Name)
		if err := formatter.Failure(ErrCodeFailed, msg, summary, render); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	return formatter.Success(summary, render)
}

// exposition renders every gathered family in the Prometheus text format.
func exposition(g prometheus.Gatherer) (string, error) {
	families, err := g.Gather()
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func writeRunText(w io.Writer, s RunSummary) {
	mark := "✓"
	if !s.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s\n", mark, s.Scenario)

	for i, step := range s.Steps {
		fmt.Fprintf(w, "  [%d] %s: %s", i, step.Payload, formatOrder(step.Order))
		if step.Error != "" {
			fmt.Fprintf(w, " (%s)", step.Error)
		}
		fmt.Fprintln(w)
	}

	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s\n", strings.TrimRight(e, "\n"))
	}

	if s.Metrics != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, s.Metrics)
	}
}

func formatOrder(order []string) string {
	if len(order) == 0 {
		return "(none)"
	}
	return strings.Join(order, " → ")
}
