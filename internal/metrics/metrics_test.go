package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flux/internal/dispatch"
	"github.com/roach88/flux/internal/testutil"
)

func newTestEngine(t *testing.T) (*dispatch.Dispatcher, *prometheus.Registry, *Observer) {
	t.Helper()

	reg := prometheus.NewRegistry()
	obs, err := New(reg, "flux")
	require.NoError(t, err)

	return testutil.NewDispatcher(dispatch.WithObserver(obs)), reg, obs
}

// sample returns the value of the counter or histogram count for name with
// the given label pair, or -1 if the series does not exist.
func sample(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" && !hasLabel(m, label, value) {
				continue
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				return m.GetCounter().GetValue()
			case dto.MetricType_HISTOGRAM:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return -1
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestObserver_CountsSuccessfulRounds(t *testing.T) {
	d, reg, _ := newTestEngine(t)
	d.RegisterFunc(func(context.Context, any) error { return nil })
	d.RegisterFunc(func(context.Context, any) error { return nil })

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, "a"))
	require.NoError(t, d.Dispatch(ctx, "b"))

	assert.Equal(t, 2.0, sample(t, reg, "flux_dispatch_rounds_total", "outcome", OutcomeOK))
	assert.Equal(t, 4.0, sample(t, reg, "flux_dispatch_invocations_total", "outcome", OutcomeOK))
	assert.Equal(t, 2.0, sample(t, reg, "flux_dispatch_round_duration_seconds", "", ""))
	assert.Equal(t, -1.0, sample(t, reg, "flux_dispatch_errors_total", "", ""))
}

func TestObserver_CountsFailuresByCode(t *testing.T) {
	d, reg, _ := newTestEngine(t)
	ctx := context.Background()

	var self dispatch.Token
	self = d.RegisterFunc(func(ctx context.Context, payload any) error {
		switch payload {
		case "cycle":
			return d.WaitFor(ctx, self)
		case "boom":
			return errors.New("boom")
		}
		return nil
	})

	require.Error(t, d.Dispatch(ctx, "cycle"))
	require.Error(t, d.Dispatch(ctx, "boom"))
	require.NoError(t, d.Dispatch(ctx, "ok"))

	assert.Equal(t, 2.0, sample(t, reg, "flux_dispatch_rounds_total", "outcome", OutcomeError))
	assert.Equal(t, 1.0, sample(t, reg, "flux_dispatch_rounds_total", "outcome", OutcomeOK))
	assert.Equal(t, 1.0, sample(t, reg, "flux_dispatch_errors_total", "code", string(dispatch.ErrCodeCircularDependency)))
	assert.Equal(t, 1.0, sample(t, reg, "flux_dispatch_errors_total", "code", codeSubscriber))
	assert.Equal(t, 2.0, sample(t, reg, "flux_dispatch_invocations_total", "outcome", OutcomeError))
}

func TestObserver_RejectedReentrantDispatchNotCounted(t *testing.T) {
	d, reg, _ := newTestEngine(t)
	ctx := context.Background()

	d.RegisterFunc(func(ctx context.Context, payload any) error {
		_ = d.Dispatch(ctx, "inner")
		return nil
	})

	require.NoError(t, d.Dispatch(ctx, "outer"))
	assert.Equal(t, 1.0, sample(t, reg, "flux_dispatch_rounds_total", "outcome", OutcomeOK))
	assert.Equal(t, -1.0, sample(t, reg, "flux_dispatch_rounds_total", "outcome", OutcomeError))
}

func TestObserver_RoundDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := testutil.NewStepClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 250*time.Millisecond)
	obs, err := New(reg, "flux", WithClock(clock.Now))
	require.NoError(t, err)

	info := dispatch.RoundInfo{ID: "round-1"}
	ctx := obs.RoundStarted(context.Background(), info)
	obs.RoundFinished(ctx, info, nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "flux_dispatch_round_duration_seconds" {
			h := mf.GetMetric()[0].GetHistogram()
			assert.Equal(t, uint64(1), h.GetSampleCount())
			assert.InDelta(t, 0.25, h.GetSampleSum(), 1e-9)
			return
		}
	}
	t.Fatal("round duration histogram not gathered")
}

func TestObserver_ClockCalledTwicePerRound(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := testutil.NewStepClock(time.Time{}, time.Millisecond)
	obs, err := New(reg, "flux", WithClock(clock.Now))
	require.NoError(t, err)

	d := testutil.NewDispatcher(dispatch.WithObserver(obs))
	rec := &testutil.Recorder{}
	d.Register(rec.Subscriber("a", nil))

	require.NoError(t, d.Dispatch(context.Background(), nil))
	assert.Equal(t, 2, clock.Calls())
	assert.Equal(t, []string{"a"}, rec.Calls())
}

func TestObserver_ContextErrorsLabelled(t *testing.T) {
	assert.Equal(t, codeContext, errorCode(context.Canceled))
	assert.Equal(t, codeContext, errorCode(context.DeadlineExceeded))
	assert.Equal(t, string(dispatch.ErrCodeUnknownSubscriber), errorCode(dispatch.ErrUnknownSubscriber))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, "flux")
	require.NoError(t, err)

	_, err = New(reg, "flux")
	var already prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &already)

	// A different namespace does not collide.
	_, err = New(reg, "other")
	assert.NoError(t, err)
}
