package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/flux/internal/dispatch"
)

// Option configures a harness run.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	observers []dispatch.Observer
	roundIDs  dispatch.RoundIDGenerator
}

// WithLogger sets the logger used by the engine and the harness.
// Default: logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver adds an engine observer next to the trace recorder, e.g. a
// metrics.Observer or tracing.Observer.
func WithObserver(o dispatch.Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithRoundIDGenerator overrides the round ID sequence. Default:
// dispatch.SequenceGenerator, which keeps traces reproducible.
func WithRoundIDGenerator(g dispatch.RoundIDGenerator) Option {
	return func(c *config) {
		if g != nil {
			c.roundIDs = g
		}
	}
}

// Harness is the test execution engine.
// It owns one Dispatcher for the duration of a scenario.
type Harness struct {
	scenario *Scenario
	engine   *dispatch.Dispatcher
	logger   *slog.Logger
	result   *Result

	specs  map[string]SubscriberSpec
	tokens map[string]dispatch.Token // last token issued per name, kept after unregister
	names  map[dispatch.Token]string
	active map[string]bool

	step  int
	order []string // completions of the current step
	seq   int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh engine for isolation.
//
// Execution flow:
//  1. Validate the scenario
//  2. Register every subscriber that is not late, in declaration order
//  3. Dispatch each step, recording the trace and checking expect clauses
//  4. Evaluate assertions against the complete result
//
// The returned error is non-nil only when the scenario itself is invalid.
// Expectation and assertion failures are reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	if err := ValidateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	cfg := config{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs by default
		roundIDs: &dispatch.SequenceGenerator{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Harness{
		scenario: scenario,
		logger:   cfg.logger,
		result:   NewResult(),
		specs:    make(map[string]SubscriberSpec, len(scenario.Subscribers)),
		tokens:   make(map[string]dispatch.Token, len(scenario.Subscribers)),
		names:    make(map[dispatch.Token]string, len(scenario.Subscribers)),
		active:   make(map[string]bool, len(scenario.Subscribers)),
	}

	observers := append([]dispatch.Observer{&traceObserver{h: h}}, cfg.observers...)
	h.engine = dispatch.New(
		dispatch.WithLogger(cfg.logger),
		dispatch.WithObserver(dispatch.Observers(observers...)),
		dispatch.WithRoundIDGenerator(cfg.roundIDs),
	)

	for _, spec := range scenario.Subscribers {
		h.specs[spec.Name] = spec
	}
	for _, spec := range scenario.Subscribers {
		if !spec.Late {
			h.register(spec.Name)
		}
	}

	ctx := context.Background()
	for i, step := range scenario.Steps {
		h.runStep(ctx, i, step)
	}

	h.result.Idle = !h.engine.IsDispatching()

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}

	return h.result, nil
}

// runStep dispatches one step. A failing step unregister becomes the step
// outcome and the dispatch is skipped.
func (h *Harness) runStep(ctx context.Context, index int, step DispatchStep) {
	h.step = index
	h.order = []string{}

	var err error
	for _, name := range step.Unregister {
		if err = h.unregister(name); err != nil {
			break
		}
	}
	if err == nil {
		err = h.engine.Dispatch(ctx, step.Payload)
	}

	sr := StepResult{
		Payload: step.Payload,
		Error:   ErrorCode(err),
		Order:   h.order,
	}
	h.result.Steps = append(h.result.Steps, sr)

	h.logger.Debug("dispatch step finished",
		"step", index,
		"payload", step.Payload,
		"error", sr.Error,
		"order", sr.Order,
	)

	if step.Expect == nil {
		return
	}
	if sr.Error != step.Expect.Error {
		h.result.AddError(fmt.Sprintf("dispatch[%d]: expected error %q, got %q", index, step.Expect.Error, sr.Error))
	}
	if step.Expect.Order != nil && !slices.Equal(sr.Order, step.Expect.Order) {
		h.result.AddError(fmt.Sprintf("dispatch[%d]: expected order %v, got %v", index, step.Expect.Order, sr.Order))
	}
}

// register adds the named subscriber unless it is already registered.
func (h *Harness) register(name string) {
	if h.active[name] {
		return
	}
	token := h.engine.Register(h.subscriber(h.specs[name]))
	h.tokens[name] = token
	h.names[token] = name
	h.active[name] = true
}

// unregister removes the named subscriber. Names never registered resolve to
// the zero token, which the engine reports as unknown.
func (h *Harness) unregister(name string) error {
	if err := h.engine.Unregister(h.tokens[name]); err != nil {
		return err
	}
	delete(h.active, name)
	return nil
}

// subscriber builds the scripted behavior for spec.
func (h *Harness) subscriber(spec SubscriberSpec) dispatch.SubscriberFunc {
	return func(ctx context.Context, payload any) error {
		p, _ := payload.(string)
		if len(spec.On) > 0 && !slices.Contains(spec.On, p) {
			return nil
		}

		for _, name := range spec.Register {
			h.register(name)
		}

		for _, name := range spec.Unregister {
			if err := h.unregister(name); err != nil {
				return err
			}
		}

		if len(spec.WaitFor) > 0 {
			deps := make([]dispatch.Token, len(spec.WaitFor))
			for i, name := range spec.WaitFor {
				deps[i] = h.tokens[name]
			}
			if err := h.engine.WaitFor(ctx, deps...); err != nil {
				return err
			}
		}

		if spec.Redispatch {
			if err := h.engine.Dispatch(ctx, payload); err != nil {
				return err
			}
		}

		if spec.Fail != "" {
			return errors.New(spec.Fail)
		}
		return nil
	}
}

func (h *Harness) record(event TraceEvent) {
	h.seq++
	event.Seq = h.seq
	event.Step = h.step
	h.result.Trace = append(h.result.Trace, event)
}

// traceObserver records engine events into the harness result.
type traceObserver struct {
	h *Harness
}

func (o *traceObserver) RoundStarted(ctx context.Context, round dispatch.RoundInfo) context.Context {
	o.h.record(TraceEvent{Type: EventRoundStarted, Round: round.ID})
	return ctx
}

func (o *traceObserver) InvocationStarted(ctx context.Context, round dispatch.RoundInfo, token dispatch.Token) context.Context {
	o.h.record(TraceEvent{Type: EventInvoked, Round: round.ID, Subscriber: o.h.names[token]})
	return ctx
}

func (o *traceObserver) InvocationFinished(_ context.Context, round dispatch.RoundInfo, token dispatch.Token, err error) {
	name := o.h.names[token]
	o.h.record(TraceEvent{Type: EventCompleted, Round: round.ID, Subscriber: name, Error: ErrorCode(err)})
	o.h.order = append(o.h.order, name)
}

func (o *traceObserver) RoundFinished(_ context.Context, round dispatch.RoundInfo, err error) {
	o.h.record(TraceEvent{Type: EventRoundFinished, Round: round.ID, Error: ErrorCode(err)})
}
