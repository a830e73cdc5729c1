package harness

import (
	"github.com/roach88/flux/internal/dispatch"
)

// CodeSubscriberFailed is the error code recorded when a subscriber returns
// an error that is not an engine contract violation.
const CodeSubscriberFailed dispatch.ErrorCode = "SUBSCRIBER_FAILED"

// Trace event types.
const (
	EventRoundStarted  = "round_started"
	EventInvoked       = "invoked"
	EventCompleted     = "completed"
	EventRoundFinished = "round_finished"
)

// TraceEvent is one observed engine event.
type TraceEvent struct {
	Seq        int64  `json:"seq"`
	Type       string `json:"type"`
	Step       int    `json:"step"`
	Round      string `json:"round"`
	Subscriber string `json:"subscriber,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StepResult is the outcome of one dispatch step.
type StepResult struct {
	Payload string   `json:"payload"`
	Error   string   `json:"error,omitempty"`
	Order   []string `json:"order"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains all engine events in order.
	Trace []TraceEvent `json:"trace"`

	// Steps holds one entry per dispatch step.
	Steps []StepResult `json:"steps"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Idle reports whether the engine was idle after the last step.
	Idle bool `json:"idle"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Completions returns subscriber names in completion order across all steps.
func (r *Result) Completions() []string {
	var names []string
	for _, event := range r.Trace {
		if event.Type == EventCompleted {
			names = append(names, event.Subscriber)
		}
	}
	return names
}

// ErrorCode maps err to the code recorded in traces and step results.
// Engine errors keep their code, anything else is CodeSubscriberFailed,
// and nil maps to "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := dispatch.CodeOf(err); code != "" {
		return string(code)
	}
	return string(CodeSubscriberFailed)
}
