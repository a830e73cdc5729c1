// Package dispatch implements the synchronous single-writer dispatch engine.
//
// A Dispatcher owns an ordered registry of subscribers. Each call to Dispatch
// starts a round: every subscriber registered when the round began is invoked
// exactly once with the round's payload, in registration order, unless another
// subscriber pulls it forward with WaitFor.
//
// ARCHITECTURE:
//
// Single-Writer Rounds:
// At most one round is active per Dispatcher. A Dispatch call made while a
// round is active fails with REENTRANT_DISPATCH instead of queuing. There is no
// goroutine and no scheduler; "waiting" is a plain recursive call:
//
//  1. Dispatch snapshots the registry and marks every member unvisited
//  2. The main loop invokes each member that is still unvisited
//  3. invoke() marks the token pending, calls the subscriber, marks it handled
//  4. A subscriber calling WaitFor(B) invokes B in-line before returning
//  5. WaitFor on a pending token means B is still on the call stack: a cycle
//
// Per-token state is monotonic within a round: unvisited → pending → handled.
//
// Round Teardown:
// Round state is discarded in a deferred call, so the Dispatcher is idle again
// when Dispatch returns, whether the round succeeded, a subscriber failed, an
// engine contract was violated or a subscriber panicked.
//
// Error Propagation:
// Subscriber errors are returned to the Dispatch caller unchanged. Engine
// contract violations are *Error values carrying an ErrorCode and the
// offending Token. Subscribers are expected to return the error they get
// from WaitFor; the engine does not swallow or retry anything.
//
// Concurrency:
// A Dispatcher is not safe for concurrent use. All calls, including the ones
// subscribers make from inside a round, happen on the dispatching goroutine.
package dispatch
