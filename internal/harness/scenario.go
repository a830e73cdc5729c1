package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/flux/internal/dispatch"
)

//go:embed schema.cue
var schemaSource string

// Scenario defines a conformance test scenario.
// Scenarios validate dispatch ordering by running scripted subscribers
// through a sequence of dispatch steps and asserting on the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario. Used as the golden file name.
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description" json:"description"`

	// Subscribers are registered in declaration order, except late ones.
	Subscribers []SubscriberSpec `yaml:"subscribers" json:"subscribers"`

	// Steps are dispatched in order, each as a separate round.
	Steps []DispatchStep `yaml:"dispatch" json:"dispatch"`

	// Assertions validate the complete trace after all steps ran.
	Assertions []Assertion `yaml:"assertions,omitempty" json:"assertions,omitempty"`
}

// SubscriberSpec scripts the behavior of one subscriber.
type SubscriberSpec struct {
	// Name identifies the subscriber in the trace and in other specs.
	Name string `yaml:"name" json:"name"`

	// WaitFor lists subscribers this one waits for, in order.
	WaitFor []string `yaml:"wait_for,omitempty" json:"wait_for,omitempty"`

	// Fail makes the subscriber return an error with this message.
	Fail string `yaml:"fail,omitempty" json:"fail,omitempty"`

	// Redispatch makes the subscriber attempt a nested Dispatch and return
	// its error.
	Redispatch bool `yaml:"redispatch,omitempty" json:"redispatch,omitempty"`

	// Unregister lists subscribers this one unregisters while handling.
	Unregister []string `yaml:"unregister,omitempty" json:"unregister,omitempty"`

	// Register lists late subscribers this one registers while handling.
	Register []string `yaml:"register,omitempty" json:"register,omitempty"`

	// Late subscribers are not registered up front; another subscriber's
	// Register list brings them in.
	Late bool `yaml:"late,omitempty" json:"late,omitempty"`

	// On restricts the scripted behavior to these payloads. Empty means all.
	On []string `yaml:"on,omitempty" json:"on,omitempty"`
}

// DispatchStep is one dispatch round.
type DispatchStep struct {
	// Payload is dispatched as a string.
	Payload string `yaml:"payload" json:"payload"`

	// Unregister lists subscribers removed before this step is dispatched.
	Unregister []string `yaml:"unregister,omitempty" json:"unregister,omitempty"`

	// Expect validates the step outcome. If nil, no validation is performed.
	Expect *ExpectClause `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a dispatch step.
type ExpectClause struct {
	// Error is the expected error code; empty means the step succeeds.
	Error string `yaml:"error,omitempty" json:"error,omitempty"`

	// Order is the expected completion order of the step. If nil, the order
	// is not checked.
	Order []string `yaml:"order,omitempty" json:"order,omitempty"`
}

// Assertion validates the trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_order": subscribers complete in this relative order
	// - "trace_count": subscriber completes exactly Count times
	// - "error_code": step ended with Code
	// - "idle": engine is idle after the run
	Type string `yaml:"type" json:"type"`

	// Subscribers is the expected order (trace_order).
	Subscribers []string `yaml:"subscribers,omitempty" json:"subscribers,omitempty"`

	// Subscriber is the subscriber name (trace_count).
	Subscriber string `yaml:"subscriber,omitempty" json:"subscriber,omitempty"`

	// Count is the expected number of completions (trace_count).
	Count int `yaml:"count,omitempty" json:"count,omitempty"`

	// Step is the zero-based step index (error_code).
	Step int `yaml:"step,omitempty" json:"step,omitempty"`

	// Code is the expected error code, empty for success (error_code).
	Code string `yaml:"code,omitempty" json:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
	AssertErrorCode  = "error_code"
	AssertIdle       = "idle"
)

// LoadScenario reads and parses a scenario file. Files ending in .cue are
// unified against the embedded #Scenario schema; everything else is parsed as
// YAML.
//
// Returns an error if the file doesn't exist, is malformed, contains unknown
// fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario *Scenario
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		scenario, err = ParseCUE(path, data)
	} else {
		scenario, err = ParseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	if err := ValidateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return scenario, nil
}

// ParseYAML decodes a YAML scenario, rejecting unknown fields.
// It does not validate the result.
func ParseYAML(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// ParseCUE compiles a CUE scenario and unifies it with the closed #Scenario
// schema, so unknown fields and wrong types are rejected with positions.
// It does not run ValidateScenario.
func ParseCUE(filename string, data []byte) (*Scenario, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile scenario schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Scenario"))

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CUE: %s", cueDetails(err))
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("scenario does not match schema: %s", cueDetails(err))
	}

	var scenario Scenario
	if err := unified.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to decode CUE: %w", err)
	}
	return &scenario, nil
}

// cueDetails flattens a CUE error list into one line per error.
func cueDetails(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}

// ValidateScenario checks that required fields are present and that every
// subscriber reference resolves to a declared subscriber.
func ValidateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Subscribers) == 0 {
		return fmt.Errorf("subscribers list is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("dispatch list is required and must be non-empty")
	}

	declared := make(map[string]bool, len(s.Subscribers))
	for i, sub := range s.Subscribers {
		if sub.Name == "" {
			return fmt.Errorf("subscribers[%d]: name is required", i)
		}
		if declared[sub.Name] {
			return fmt.Errorf("subscribers[%d]: duplicate name %q", i, sub.Name)
		}
		declared[sub.Name] = true
	}

	late := make(map[string]bool)
	for _, sub := range s.Subscribers {
		if sub.Late {
			late[sub.Name] = true
		}
	}

	for i, sub := range s.Subscribers {
		if err := checkRefs(fmt.Sprintf("subscribers[%d].wait_for", i), sub.WaitFor, declared); err != nil {
			return err
		}
		if err := checkRefs(fmt.Sprintf("subscribers[%d].unregister", i), sub.Unregister, declared); err != nil {
			return err
		}
		if err := checkRefs(fmt.Sprintf("subscribers[%d].register", i), sub.Register, declared); err != nil {
			return err
		}
		for _, name := range sub.Register {
			if !late[name] {
				return fmt.Errorf("subscribers[%d].register: %q is not a late subscriber", i, name)
			}
		}
	}

	for i, step := range s.Steps {
		if err := checkRefs(fmt.Sprintf("dispatch[%d].unregister", i), step.Unregister, declared); err != nil {
			return err
		}
		if step.Expect != nil {
			if err := checkCode(fmt.Sprintf("dispatch[%d].expect.error", i), step.Expect.Error); err != nil {
				return err
			}
			if err := checkRefs(fmt.Sprintf("dispatch[%d].expect.order", i), step.Expect.Order, declared); err != nil {
				return err
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, declared, len(s.Steps)); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, declared map[string]bool, steps int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceOrder:
		if len(a.Subscribers) == 0 {
			return fmt.Errorf("assertions[%d]: subscribers list is required for trace_order", index)
		}
		return checkRefs(fmt.Sprintf("assertions[%d].subscribers", index), a.Subscribers, declared)
	case AssertTraceCount:
		if a.Subscriber == "" {
			return fmt.Errorf("assertions[%d]: subscriber is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
		return checkRefs(fmt.Sprintf("assertions[%d].subscriber", index), []string{a.Subscriber}, declared)
	case AssertErrorCode:
		if a.Step < 0 || a.Step >= steps {
			return fmt.Errorf("assertions[%d]: step %d out of range for error_code", index, a.Step)
		}
		return checkCode(fmt.Sprintf("assertions[%d].code", index), a.Code)
	case AssertIdle:
		return nil
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}

func checkRefs(field string, names []string, declared map[string]bool) error {
	for _, name := range names {
		if !declared[name] {
			return fmt.Errorf("%s: unknown subscriber %q", field, name)
		}
	}
	return nil
}

// checkCode accepts the error codes a step can end with.
func checkCode(field, code string) error {
	switch dispatch.ErrorCode(code) {
	case "", CodeSubscriberFailed,
		dispatch.ErrCodeUnknownSubscriber,
		dispatch.ErrCodeReentrantDispatch,
		dispatch.ErrCodeNotDispatching,
		dispatch.ErrCodeCircularDependency:
		return nil
	}
	return fmt.Errorf("%s: unknown error code %q", field, code)
}
