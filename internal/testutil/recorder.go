package testutil

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/flux/internal/dispatch"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewDispatcher creates a Dispatcher with a discarded logger and "round-N"
// round IDs, plus any extra options.
func NewDispatcher(opts ...dispatch.Option) *dispatch.Dispatcher {
	base := []dispatch.Option{
		dispatch.WithLogger(DiscardLogger()),
		dispatch.WithRoundIDGenerator(&dispatch.SequenceGenerator{}),
	}
	return dispatch.New(append(base, opts...)...)
}

// Recorder collects the order in which named subscribers run.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

// Subscriber returns a subscriber that records name and then returns err.
func (r *Recorder) Subscriber(name string, err error) dispatch.SubscriberFunc {
	return func(context.Context, any) error {
		r.Record(name)
		return err
	}
}

// Record appends name to the call log.
func (r *Recorder) Record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

// Calls returns a copy of the call log.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Reset clears the call log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
