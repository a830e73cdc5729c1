// Package metrics exports dispatch engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/flux/internal/dispatch"
)

// Label values for the outcome label.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Error code labels for failures that are not engine contract violations.
const (
	codeSubscriber = "SUBSCRIBER"
	codeContext    = "CONTEXT"
)

// Observer implements dispatch.Observer on top of Prometheus collectors.
type Observer struct {
	rounds      *prometheus.CounterVec
	invocations *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    prometheus.Histogram

	mu      sync.Mutex
	started map[string]time.Time // round ID -> start time

	now func() time.Time
}

var _ dispatch.Observer = (*Observer)(nil)

// Option configures an Observer.
type Option func(*Observer)

// WithClock sets the time source used for round durations. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Observer) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Observer and registers its collectors with reg.
// Use a dedicated prometheus.NewRegistry() per engine in tests.
func New(reg prometheus.Registerer, namespace string, opts ...Option) (*Observer, error) {
	o := &Observer{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "rounds_total",
			Help: "Dispatch rounds by outcome.",
		}, []string{"outcome"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "invocations_total",
			Help: "Subscriber invocations by outcome.",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "errors_total",
			Help: "Failed rounds by error code.",
		}, []string{"code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "round_duration_seconds",
			Help:    "Wall time of a dispatch round.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		started: make(map[string]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	for _, c := range []prometheus.Collector{o.rounds, o.invocations, o.errors, o.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// RoundStarted records the round start time.
func (o *Observer) RoundStarted(ctx context.Context, round dispatch.RoundInfo) context.Context {
	o.mu.Lock()
	o.started[round.ID] = o.now()
	o.mu.Unlock()
	return ctx
}

// InvocationStarted is a no-op; invocations are counted when they finish.
func (o *Observer) InvocationStarted(ctx context.Context, _ dispatch.RoundInfo, _ dispatch.Token) context.Context {
	return ctx
}

// InvocationFinished counts the invocation by outcome.
func (o *Observer) InvocationFinished(_ context.Context, _ dispatch.RoundInfo, _ dispatch.Token, err error) {
	o.invocations.WithLabelValues(outcome(err)).Inc()
}

// RoundFinished counts the round, its error code and its duration.
func (o *Observer) RoundFinished(_ context.Context, round dispatch.RoundInfo, err error) {
	o.mu.Lock()
	start, ok := o.started[round.ID]
	delete(o.started, round.ID)
	o.mu.Unlock()

	if ok {
		o.duration.Observe(o.now().Sub(start).Seconds())
	}

	o.rounds.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		o.errors.WithLabelValues(errorCode(err)).Inc()
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// errorCode maps err to a bounded label value.
func errorCode(err error) string {
	if code := dispatch.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return codeContext
	}
	return codeSubscriber
}
