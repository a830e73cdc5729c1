package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/flux/internal/harness"
	"github.com/roach88/flux/internal/tracing"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Spans bool // include the OpenTelemetry span tree
}

// SpanNode is one span in the rendered span tree.
type SpanNode struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Status     string            `json:"status"`
	Children   []SpanNode        `json:"children,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Scenario string               `json:"scenario"`
	Trace    []harness.TraceEvent `json:"trace"`
	Spans    []SpanNode           `json:"spans,omitempty"`
	Stats    TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Rounds      int `json:"rounds"`
	Invocations int `json:"invocations"`
	Failures    int `json:"failures"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario>",
		Short: "Show the event trace of a scenario",
		Long: `Run a scenario and print every engine event in order.

The trace lists round starts, invocations, completions and round ends with
the step and round they belong to. With --spans the run is also recorded as
OpenTelemetry spans and printed as a tree, where invocations reached
through wait_for nest under the subscriber that waited.

The trace is printed whether or not the scenario's expectations hold.

Examples:
  flux trace ./scenarios/checkout.yaml
  flux trace ./scenarios/cycle.cue --spans
  flux trace ./scenarios/checkout.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Spans, "spans", false, "include the OpenTelemetry span tree")

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	scenario, err := LoadScenario(path)
	if err != nil {
		return reportLoadError(formatter, err, ExitCommandError)
	}

	hopts := []harness.Option{harness.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr()))}

	var collector *spanCollector
	if opts.Spans {
		collector = newSpanCollector()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(collector))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		hopts = append(hopts, harness.WithObserver(tracing.New(tp)))
	}

	result, err := harness.Run(scenario, hopts...)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	out := TraceResult{
		Scenario: scenario.Name,
		Trace:    result.Trace,
		Stats:    traceStats(result.Trace),
	}
	if collector != nil {
		out.Spans = collector.tree()
	}
	formatter.VerboseLog("Recorded %d event(s) over %d round(s)", len(out.Trace), out.Stats.Rounds)

	return formatter.Success(out, func(w io.Writer) { writeTraceText(w, out) })
}

func traceStats(events []harness.TraceEvent) TraceStats {
	var stats TraceStats
	for _, e := range events {
		switch e.Type {
		case harness.EventRoundStarted:
			stats.Rounds++
		case harness.EventInvoked:
			stats.Invocations++
		case harness.EventCompleted:
			if e.Error != "" {
				stats.Failures++
			}
		}
	}
	return stats
}

func writeTraceText(w io.Writer, r TraceResult) {
	fmt.Fprintf(w, "Trace: %s\n\n", r.Scenario)

	for _, e := range r.Trace {
		fmt.Fprintf(w, "  #%-3d step %d %-8s %-14s", e.Seq, e.Step, e.Round, e.Type)
		if e.Subscriber != "" {
			fmt.Fprintf(w, " %s", e.Subscriber)
		}
		if e.Error != "" {
			fmt.Fprintf(w, " (%s)", e.Error)
		}
		fmt.Fprintln(w)
	}

	if len(r.Spans) > 0 {
		fmt.Fprintln(w, "\nSpans:")
		for _, node := range r.Spans {
			writeSpanNode(w, node, 1)
		}
	}

	fmt.Fprintf(w, "\nStats: %d round(s), %d invocation(s), %d failure(s)\n",
		r.Stats.Rounds, r.Stats.Invocations, r.Stats.Failures)
}

func writeSpanNode(w io.Writer, node SpanNode, depth int) {
	label := node.Name
	if token, ok := node.Attributes[string(tracing.AttrToken)]; ok {
		label += " " + token
	} else if id, ok := node.Attributes[string(tracing.AttrRoundID)]; ok {
		label += " " + id
	}
	if node.Status == codes.Error.String() {
		label += " [" + node.Attributes[string(tracing.AttrErrorCode)] + "]"
	}
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), label)

	for _, child := range node.Children {
		writeSpanNode(w, child, depth+1)
	}
}

// spanCollector is a SpanProcessor that keeps every ended span so the run
// can be rendered as a tree afterwards.
type spanCollector struct {
	mu      sync.Mutex
	started map[trace.SpanID]int
	ended   []sdktrace.ReadOnlySpan
}

var _ sdktrace.SpanProcessor = (*spanCollector)(nil)

func newSpanCollector() *spanCollector {
	return &spanCollector{started: make(map[trace.SpanID]int)}
}

func (c *spanCollector) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started[s.SpanContext().SpanID()] = len(c.started)
}

func (c *spanCollector) OnEnd(s sdktrace.ReadOnlySpan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, s)
}

func (c *spanCollector) Shutdown(context.Context) error   { return nil }
func (c *spanCollector) ForceFlush(context.Context) error { return nil }

// tree links ended spans by parent span ID. Siblings keep start order; a
// span whose parent never ended becomes a root.
func (c *spanCollector) tree() []SpanNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	spans := make([]sdktrace.ReadOnlySpan, len(c.ended))
	copy(spans, c.ended)
	slices.SortFunc(spans, func(a, b sdktrace.ReadOnlySpan) int {
		return c.started[a.SpanContext().SpanID()] - c.started[b.SpanContext().SpanID()]
	})

	known := make(map[trace.SpanID]bool, len(spans))
	for _, s := range spans {
		known[s.SpanContext().SpanID()] = true
	}

	children := make(map[trace.SpanID][]sdktrace.ReadOnlySpan)
	var roots []sdktrace.ReadOnlySpan
	for _, s := range spans {
		parent := s.Parent().SpanID()
		if s.Parent().IsValid() && known[parent] {
			children[parent] = append(children[parent], s)
			continue
		}
		roots = append(roots, s)
	}

	var build func(s sdktrace.ReadOnlySpan) SpanNode
	build = func(s sdktrace.ReadOnlySpan) SpanNode {
		node := SpanNode{
			Name:   s.Name(),
			Status: s.Status().Code.String(),
		}
		if attrs := s.Attributes(); len(attrs) > 0 {
			node.Attributes = make(map[string]string, len(attrs))
			for _, kv := range attrs {
				node.Attributes[string(kv.Key)] = kv.Value.Emit()
			}
		}
		for _, child := range children[s.SpanContext().SpanID()] {
			node.Children = append(node.Children, build(child))
		}
		return node
	}

	nodes := make([]SpanNode, 0, len(roots))
	for _, root := range roots {
		nodes = append(nodes, build(root))
	}
	return nodes
}
