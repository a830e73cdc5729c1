package dispatch

import (
	"context"
	"strconv"
	"sync/atomic"
)

// tokenPrefix is prepended to the counter value when a Token is rendered.
const tokenPrefix = "ID_"

// Token identifies a registered subscriber within one Dispatcher.
//
// Tokens come from a monotonic counter starting at 1; the zero Token is never
// issued. A token value is never reused for the lifetime of its Dispatcher,
// even after Unregister.
type Token uint64

// String renders the token as "ID_<n>".
func (t Token) String() string {
	return tokenPrefix + strconv.FormatUint(uint64(t), 10)
}

// Subscriber receives the payload of every round it is a member of.
//
// A non-nil error aborts the round and is returned to the Dispatch caller
// unchanged.
type Subscriber interface {
	Handle(ctx context.Context, payload any) error
}

// SubscriberFunc adapts an ordinary function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, payload any) error

// Handle calls f(ctx, payload).
func (f SubscriberFunc) Handle(ctx context.Context, payload any) error {
	return f(ctx, payload)
}

// tokenClock mints tokens in strictly increasing order.
//
// Calls are linearizable, but the Dispatcher's single-writer design means only
// the dispatching goroutine normally calls next().
type tokenClock struct {
	seq atomic.Uint64
}

// next returns the next token and advances the clock.
func (c *tokenClock) next() Token {
	return Token(c.seq.Add(1))
}
