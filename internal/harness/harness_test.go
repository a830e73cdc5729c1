package harness

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flux/internal/dispatch"
)

func TestRun_CheckoutChain(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/checkout_chain.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Errors)
	assert.True(t, result.Idle)

	require.Len(t, result.Steps, 2)
	assert.Equal(t, "", result.Steps[0].Error)
	assert.Equal(t, "SUBSCRIBER_FAILED", result.Steps[1].Error)
}

func TestRun_LateRegistration(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/late_registration.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_WaitForLateSubscriberIsUnknown(t *testing.T) {
	scenario := &Scenario{
		Name:        "late_wait",
		Description: "Waiting on a subscriber registered in the same round",
		Subscribers: []SubscriberSpec{
			{Name: "starter", Register: []string{"audit"}, WaitFor: []string{"audit"}},
			{Name: "audit", Late: true},
		},
		Steps: []DispatchStep{
			{Payload: "go", Expect: &ExpectClause{Error: "UNKNOWN_SUBSCRIBER", Order: []string{"starter"}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_UnregisterDuringRound(t *testing.T) {
	scenario := &Scenario{
		Name:        "unregister_mid_round",
		Description: "A subscriber unregisters a later member",
		Subscribers: []SubscriberSpec{
			{Name: "first", Unregister: []string{"second"}},
			{Name: "second"},
		},
		Steps: []DispatchStep{
			{Payload: "one", Expect: &ExpectClause{Order: []string{"first"}}},
			// second is gone, so unregistering it again fails.
			{Payload: "two", Expect: &ExpectClause{Error: "UNKNOWN_SUBSCRIBER", Order: []string{"first"}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_WaitForUnregisteredMember(t *testing.T) {
	scenario := &Scenario{
		Name:        "wait_for_removed",
		Description: "Waiting on a member removed earlier in the round",
		Subscribers: []SubscriberSpec{
			{Name: "a", Unregister: []string{"c"}, WaitFor: []string{"c"}},
			{Name: "c"},
		},
		Steps: []DispatchStep{
			{Payload: "go", Expect: &ExpectClause{Error: "UNKNOWN_SUBSCRIBER", Order: []string{"a"}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_StepUnregister(t *testing.T) {
	scenario := &Scenario{
		Name:        "step_unregister",
		Description: "Steps can remove subscribers before dispatching",
		Subscribers: []SubscriberSpec{{Name: "a"}, {Name: "b"}},
		Steps: []DispatchStep{
			{Payload: "one", Unregister: []string{"b"}, Expect: &ExpectClause{Order: []string{"a"}}},
			// Failing unregister skips the dispatch entirely.
			{Payload: "two", Unregister: []string{"b"}, Expect: &ExpectClause{Error: "UNKNOWN_SUBSCRIBER", Order: []string{}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	// Only the first step produced a round.
	rounds := 0
	for _, event := range result.Trace {
		if event.Type == EventRoundStarted {
			rounds++
		}
	}
	assert.Equal(t, 1, rounds)
}

func TestRun_FailureIsSeenByWaiter(t *testing.T) {
	scenario := &Scenario{
		Name:        "failure_propagates",
		Description: "A waiter returns its dependency's failure",
		Subscribers: []SubscriberSpec{
			{Name: "waiter", WaitFor: []string{"broken"}},
			{Name: "broken", Fail: "boom"},
			{Name: "never"},
		},
		Steps: []DispatchStep{
			{Payload: "go", Expect: &ExpectClause{Error: "SUBSCRIBER_FAILED", Order: []string{"broken", "waiter"}}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Subscriber: "never", Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	// Both completions carry the failure code.
	for _, event := range result.Trace {
		if event.Type == EventCompleted {
			assert.Equal(t, "SUBSCRIBER_FAILED", event.Error)
		}
	}
}

func TestRun_ExpectationMismatchesReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "Expectations that do not hold",
		Subscribers: []SubscriberSpec{{Name: "a"}, {Name: "b"}},
		Steps: []DispatchStep{
			{Payload: "x", Expect: &ExpectClause{Error: "CIRCULAR_DEPENDENCY", Order: []string{"b", "a"}}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceOrder, Subscribers: []string{"b", "a"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, `dispatch[0]: expected error "CIRCULAR_DEPENDENCY", got ""`, result.Errors[0])
	assert.Equal(t, "dispatch[0]: expected order [b a], got [a b]", result.Errors[1])
	assert.Contains(t, result.Errors[2], "assertion 0: Assertion failed: trace_order")
}

func TestRun_InvalidScenario(t *testing.T) {
	_, err := Run(&Scenario{Name: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scenario")
}

func TestRun_TraceSequence(t *testing.T) {
	scenario := &Scenario{
		Name:        "sequence",
		Description: "Trace events are numbered in order",
		Subscribers: []SubscriberSpec{{Name: "a"}},
		Steps:       []DispatchStep{{Payload: "x"}, {Payload: "y"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	require.Len(t, result.Trace, 8)
	for i, event := range result.Trace {
		assert.Equal(t, int64(i+1), event.Seq)
	}
	assert.Equal(t, "round-1", result.Trace[0].Round)
	assert.Equal(t, 0, result.Trace[0].Step)
	assert.Equal(t, "round-2", result.Trace[4].Round)
	assert.Equal(t, 1, result.Trace[4].Step)
	assert.Equal(t, []string{"a", "a"}, result.Completions())
}

func TestRun_OnFilter(t *testing.T) {
	scenario := &Scenario{
		Name:        "on_filter",
		Description: "Scripted behavior only applies to listed payloads",
		Subscribers: []SubscriberSpec{
			{Name: "picky", Fail: "nope", On: []string{"bad"}},
		},
		Steps: []DispatchStep{
			{Payload: "good", Expect: &ExpectClause{}},
			{Payload: "bad", Expect: &ExpectClause{Error: "SUBSCRIBER_FAILED"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

type countingObserver struct {
	dispatch.NopObserver
	rounds int
}

func (o *countingObserver) RoundFinished(context.Context, dispatch.RoundInfo, error) {
	o.rounds++
}

func TestRun_Options(t *testing.T) {
	scenario := &Scenario{
		Name:        "options",
		Description: "Extra observers, logger and round IDs",
		Subscribers: []SubscriberSpec{{Name: "a"}},
		Steps:       []DispatchStep{{Payload: "x"}, {Payload: "y"}},
	}

	obs := &countingObserver{}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	result, err := Run(scenario,
		WithObserver(obs),
		WithLogger(logger),
		WithRoundIDGenerator(dispatch.NewFixedGenerator("r-a", "r-b")),
	)
	require.NoError(t, err)

	assert.Equal(t, 2, obs.rounds)
	assert.Equal(t, "r-a", result.Trace[0].Round)
	assert.Contains(t, logs.String(), "dispatch step finished")
}
