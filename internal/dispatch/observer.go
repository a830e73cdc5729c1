package dispatch

import "context"

// Observer is notified as rounds progress.
//
// RoundStarted and InvocationStarted return the context used for the rest of
// the round or invocation, so an observer can attach values such as trace
// spans. The context returned from InvocationStarted is the one handed to the
// subscriber.
//
// Observers run on the dispatching goroutine and must not call back into the
// Dispatcher.
type Observer interface {
	RoundStarted(ctx context.Context, round RoundInfo) context.Context
	InvocationStarted(ctx context.Context, round RoundInfo, token Token) context.Context
	InvocationFinished(ctx context.Context, round RoundInfo, token Token, err error)
	RoundFinished(ctx context.Context, round RoundInfo, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) RoundStarted(ctx context.Context, _ RoundInfo) context.Context { return ctx }
func (NopObserver) InvocationStarted(ctx context.Context, _ RoundInfo, _ Token) context.Context {
	return ctx
}
func (NopObserver) InvocationFinished(context.Context, RoundInfo, Token, error) {}
func (NopObserver) RoundFinished(context.Context, RoundInfo, error) {}

// Observers combines several observers into one.
// Start hooks run in order, each receiving the context returned by the
// previous one; finish hooks run in reverse order.
func Observers(obs ...Observer) Observer {
	filtered := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	switch len(filtered) {
	case 0:
		return NopObserver{}
	case 1:
		return filtered[0]
	}
	return filtered
}

type multiObserver []Observer

func (m multiObserver) RoundStarted(ctx context.Context, round RoundInfo) context.Context {
	for _, o := range m {
		ctx = o.RoundStarted(ctx, round)
	}
	return ctx
}

func (m multiObserver) InvocationStarted(ctx context.Context, round RoundInfo, token Token) context.Context {
	for _, o := range m {
		ctx = o.InvocationStarted(ctx, round, token)
	}
	return ctx
}

func (m multiObserver) InvocationFinished(ctx context.Context, round RoundInfo, token Token, err error) {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].InvocationFinished(ctx, round, token, err)
	}
}

func (m multiObserver) RoundFinished(ctx context.Context, round RoundInfo, err error) {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].RoundFinished(ctx, round, err)
	}
}
