package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// errSubscriberPanic is reported to observers when a round ends because a
// subscriber panicked. The panic itself keeps propagating.
var errSubscriberPanic = errors.New("dispatch: subscriber panicked")

// Dispatcher is the single-writer dispatch engine.
//
// INVARIANTS:
//   - order holds registered tokens in registration order
//   - at most one round is active (round != nil) at any time
//   - a token is invoked at most once per round
//   - round state never outlives the Dispatch call that created it
type Dispatcher struct {
	subscribers map[Token]Subscriber
	order       []Token
	clock       tokenClock

	round *round

	logger   *slog.Logger
	observer Observer
	roundIDs RoundIDGenerator
}

// Option allows configuration of dispatcher parameters.
type Option func(*Dispatcher)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver installs an observer. Use Observers to install several.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithRoundIDGenerator sets the round ID generator. Default: UUIDv7Generator.
// Use a FixedGenerator or SequenceGenerator for deterministic tests.
func WithRoundIDGenerator(g RoundIDGenerator) Option {
	return func(d *Dispatcher) {
		if g != nil {
			d.roundIDs = g
		}
	}
}

// New creates an idle Dispatcher with an empty registry.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subscribers: make(map[Token]Subscriber),
		logger:      slog.Default(),
		observer:    NopObserver{},
		roundIDs:    UUIDv7Generator{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Register adds sub under a freshly minted token.
//
// The same subscriber value may be registered several times; each
// registration is independent. Registering during a round is allowed, but the
// new subscriber is not a member of that round.
//
// Panics if sub is nil.
func (d *Dispatcher) Register(sub Subscriber) Token {
	if sub == nil {
		panic("dispatch: Register called with nil subscriber")
	}

	token := d.clock.next()
	d.subscribers[token] = sub
	d.order = append(d.order, token)

	d.logger.Debug("subscriber registered",
		"token", token,
		"dispatching", d.round != nil,
	)

	return token
}

// RegisterFunc is shorthand for Register(SubscriberFunc(fn)).
func (d *Dispatcher) RegisterFunc(fn func(ctx context.Context, payload any) error) Token {
	return d.Register(SubscriberFunc(fn))
}

// Unregister removes the subscriber for token.
//
// Returns an UNKNOWN_SUBSCRIBER error if token is not currently registered,
// including tokens that were already unregistered or never issued here. A
// round member unregistered before the main loop reaches it is skipped.
func (d *Dispatcher) Unregister(token Token) error {
	if _, ok := d.subscribers[token]; !ok {
		return newUnknownSubscriberError(token, "cannot unregister unknown subscriber")
	}

	delete(d.subscribers, token)
	if i := slices.Index(d.order, token); i >= 0 {
		d.order = slices.Delete(d.order, i, i+1)
	}

	d.logger.Debug("subscriber unregistered",
		"token", token,
		"dispatching", d.round != nil,
	)

	return nil
}

// IsDispatching reports whether a round is active.
func (d *Dispatcher) IsDispatching() bool {
	return d.round != nil
}

// Len returns the number of registered subscribers.
func (d *Dispatcher) Len() int {
	return len(d.order)
}

// Dispatch distributes payload to every registered subscriber.
//
// Returns a REENTRANT_DISPATCH error, without side effects, if a round is
// already active. Otherwise the members are invoked in registration order
// (subject to WaitFor) and the first error aborts the rest of the round. That
// error is returned unchanged. The Dispatcher is idle again when Dispatch
// returns or panics.
func (d *Dispatcher) Dispatch(ctx context.Context, payload any) error {
	if d.round != nil {
		return newReentrantDispatchError(d.round.id)
	}

	r := newRound(d.roundIDs.Generate(), payload, d.order)
	d.round = r
	info := r.info()

	ctx = d.observer.RoundStarted(ctx, info)
	d.logger.Debug("dispatch round started",
		"round_id", r.id,
		"members", len(r.members),
	)

	var err error
	panicking := true
	defer func() {
		d.round = nil
		if panicking {
			err = errSubscriberPanic
		}
		d.finishRound(ctx, info, err)
	}()

	err = d.runRound(ctx, r)
	panicking = false
	return err
}

// runRound is the main loop: invoke every member not yet reached via WaitFor.
func (d *Dispatcher) runRound(ctx context.Context, r *round) error {
	for _, token := range r.members {
		if r.state[token] != stateUnvisited {
			continue
		}
		if _, ok := d.subscribers[token]; !ok {
			// Unregistered mid-round.
			continue
		}
		if err := d.invoke(ctx, r, token); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) finishRound(ctx context.Context, info RoundInfo, err error) {
	d.observer.RoundFinished(ctx, info, err)

	if err != nil {
		d.logger.Warn("dispatch round failed",
			"round_id", info.ID,
			"code", CodeOf(err),
			"error", err,
		)
		return
	}
	d.logger.Debug("dispatch round finished", "round_id", info.ID)
}

// WaitFor invokes the given subscribers now, unless they already ran this
// round, so that their work is finished before the caller continues.
//
// It may only be called from a subscriber during a round:
//   - outside a round it returns NOT_DISPATCHING
//   - a token that is pending (still on the call stack) is a cycle: CIRCULAR_DEPENDENCY
//   - a token that is not registered, or registered after the round began,
//     returns UNKNOWN_SUBSCRIBER
//
// Tokens are processed in order and the first error is returned; a subscriber
// should return that error from its own Handle.
func (d *Dispatcher) WaitFor(ctx context.Context, tokens ...Token) error {
	r := d.round
	if r == nil {
		return newNotDispatchingError()
	}

	for _, token := range tokens {
		state, member := r.state[token]
		switch state {
		case stateHandled:
			continue
		case statePending:
			d.logger.Debug("circular dependency detected",
				"round_id", r.id,
				"token", token,
			)
			return newCycleError(token)
		}

		if !member {
			return newUnknownSubscriberError(token, "subscriber is not a member of the current round")
		}
		if _, ok := d.subscribers[token]; !ok {
			return newUnknownSubscriberError(token, "subscriber is not registered")
		}

		if err := d.invoke(ctx, r, token); err != nil {
			return err
		}
	}

	return nil
}

// invoke is the single place where a token's round state changes.
// CRITICAL: shared by runRound and WaitFor so ordering and cycle detection
// behave the same whichever path reaches a token first.
func (d *Dispatcher) invoke(ctx context.Context, r *round, token Token) error {
	sub := d.subscribers[token]
	r.state[token] = statePending

	info := r.info()
	ctx = d.observer.InvocationStarted(ctx, info, token)

	err := sub.Handle(ctx, r.payload)

	// Handled means the invocation returned, successfully or not.
	r.state[token] = stateHandled
	d.observer.InvocationFinished(ctx, info, token, err)

	if err != nil {
		d.logger.Debug("subscriber failed",
			"round_id", r.id,
			"token", token,
			"error", err,
		)
	}
	return err
}
