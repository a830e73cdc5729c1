package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nCompletions:\n")
	n := 0
	for _, event := range e.Trace {
		if event.Type != EventCompleted {
			continue
		}
		n++
		if event.Error != "" {
			fmt.Fprintf(&buf, "  [%d] step %d %s (%s)\n", n, event.Step, event.Subscriber, event.Error)
		} else {
			fmt.Fprintf(&buf, "  [%d] step %d %s\n", n, event.Step, event.Subscriber)
		}
	}

	return buf.String()
}

// assertTraceOrder checks that subscribers complete in the specified order.
// Only the first completion of each subscriber counts, and completions need
// not be consecutive.
func assertTraceOrder(result *Result, assertion Assertion) error {
	positions := make(map[string]int)
	for i, name := range result.Completions() {
		if positions[name] == 0 {
			positions[name] = i + 1 // 1-indexed for readability
		}
	}

	for _, name := range assertion.Subscribers {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all subscribers completed: %v", assertion.Subscribers),
				Actual:   fmt.Sprintf("never completed: %s", name),
				Trace:    result.Trace,
			}
		}
	}

	for i := 1; i < len(assertion.Subscribers); i++ {
		prev := assertion.Subscribers[i-1]
		curr := assertion.Subscribers[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("subscribers in order: %v", assertion.Subscribers),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: result.Trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks the subscriber completed exactly Count times.
func assertTraceCount(result *Result, assertion Assertion) error {
	count := 0
	for _, name := range result.Completions() {
		if name == assertion.Subscriber {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d completions of %s", assertion.Count, assertion.Subscriber),
			Actual:   fmt.Sprintf("%d completions", count),
			Trace:    result.Trace,
		}
	}

	return nil
}

// assertErrorCode checks the outcome of one step.
func assertErrorCode(result *Result, assertion Assertion) error {
	if assertion.Step < 0 || assertion.Step >= len(result.Steps) {
		return &AssertionError{
			Type:     AssertErrorCode,
			Expected: fmt.Sprintf("step %d to exist", assertion.Step),
			Actual:   fmt.Sprintf("%d steps ran", len(result.Steps)),
			Trace:    result.Trace,
		}
	}

	got := result.Steps[assertion.Step].Error
	if got != assertion.Code {
		return &AssertionError{
			Type:     AssertErrorCode,
			Expected: fmt.Sprintf("step %d ends with %s", assertion.Step, describeCode(assertion.Code)),
			Actual:   describeCode(got),
			Trace:    result.Trace,
		}
	}

	return nil
}

// assertIdle checks that no round outlived the run.
func assertIdle(result *Result, _ Assertion) error {
	if !result.Idle {
		return &AssertionError{
			Type:     AssertIdle,
			Expected: "engine idle after the last step",
			Actual:   "engine still dispatching",
			Trace:    result.Trace,
		}
	}
	return nil
}

func describeCode(code string) string {
	if code == "" {
		return "success"
	}
	return code
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns one message per failed assertion, in declaration order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceOrder:
			err = assertTraceOrder(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		case AssertErrorCode:
			err = assertErrorCode(result, assertion)
		case AssertIdle:
			err = assertIdle(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}

		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}

	return errs
}
