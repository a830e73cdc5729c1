package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

// eventObserver records every notification as a short string.
type eventObserver struct {
	name   string
	events *[]string
}

func (o eventObserver) RoundStarted(ctx context.Context, r RoundInfo) context.Context {
	*o.events = append(*o.events, fmt.Sprintf("%s:round_started:%s:%d", o.name, r.ID, r.Members))
	return context.WithValue(ctx, ctxKey(o.name), r.ID)
}

func (o eventObserver) InvocationStarted(ctx context.Context, r RoundInfo, tok Token) context.Context {
	*o.events = append(*o.events, fmt.Sprintf("%s:invoke:%s", o.name, tok))
	return ctx
}

func (o eventObserver) InvocationFinished(_ context.Context, _ RoundInfo, tok Token, err error) {
	*o.events = append(*o.events, fmt.Sprintf("%s:done:%s:%v", o.name, tok, err != nil))
}

func (o eventObserver) RoundFinished(_ context.Context, r RoundInfo, err error) {
	*o.events = append(*o.events, fmt.Sprintf("%s:round_finished:%s:%v", o.name, r.ID, err != nil))
}

func TestObserver_ReceivesRoundLifecycle(t *testing.T) {
	var events []string
	d := newTestDispatcher(WithObserver(eventObserver{name: "o", events: &events}))

	var second Token
	d.RegisterFunc(func(ctx context.Context, _ any) error {
		return d.WaitFor(ctx, second)
	})
	second = d.RegisterFunc(func(context.Context, any) error { return nil })

	require.NoError(t, d.Dispatch(context.Background(), nil))
	assert.Equal(t, []string{
		"o:round_started:round-1:2",
		"o:invoke:ID_1",
		"o:invoke:ID_2",
		"o:done:ID_2:false",
		"o:done:ID_1:false",
		"o:round_finished:round-1:false",
	}, events)
}

func TestObserver_ContextReachesSubscriber(t *testing.T) {
	var events []string
	d := newTestDispatcher(WithObserver(eventObserver{name: "o", events: &events}))

	var seen any
	d.RegisterFunc(func(ctx context.Context, _ any) error {
		seen = ctx.Value(ctxKey("o"))
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), nil))
	assert.Equal(t, "round-1", seen)
}

func TestObserver_RoundFinishedSeesError(t *testing.T) {
	var events []string
	d := newTestDispatcher(WithObserver(eventObserver{name: "o", events: &events}))
	d.RegisterFunc(func(context.Context, any) error { return errors.New("nope") })

	require.Error(t, d.Dispatch(context.Background(), nil))
	assert.Equal(t, "o:done:ID_1:true", events[2])
	assert.Equal(t, "o:round_finished:round-1:true", events[3])
}

func TestObserver_RoundFinishedOnPanic(t *testing.T) {
	var events []string
	d := newTestDispatcher(WithObserver(eventObserver{name: "o", events: &events}))
	d.RegisterFunc(func(context.Context, any) error { panic("kaboom") })

	require.Panics(t, func() { _ = d.Dispatch(context.Background(), nil) })
	require.NotEmpty(t, events)
	assert.Equal(t, "o:round_finished:round-1:true", events[len(events)-1])
}

func TestObserver_ReentrantRejectionStartsNoRound(t *testing.T) {
	var events []string
	d := newTestDispatcher(WithObserver(eventObserver{name: "o", events: &events}))
	d.RegisterFunc(func(ctx context.Context, _ any) error {
		_ = d.Dispatch(ctx, "inner")
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), "outer"))
	assert.Len(t, events, 4, "rejected inner dispatch must not notify observers")
}

func TestObservers_OrderAndNesting(t *testing.T) {
	var events []string
	d := newTestDispatcher(WithObserver(Observers(
		eventObserver{name: "a", events: &events},
		nil,
		eventObserver{name: "b", events: &events},
	)))
	d.RegisterFunc(func(context.Context, any) error { return nil })

	require.NoError(t, d.Dispatch(context.Background(), nil))
	assert.Equal(t, []string{
		"a:round_started:round-1:1",
		"b:round_started:round-1:1",
		"a:invoke:ID_1",
		"b:invoke:ID_1",
		"b:done:ID_1:false",
		"a:done:ID_1:false",
		"b:round_finished:round-1:false",
		"a:round_finished:round-1:false",
	}, events)
}

func TestObservers_Collapse(t *testing.T) {
	assert.IsType(t, NopObserver{}, Observers())
	assert.IsType(t, NopObserver{}, Observers(nil, nil))

	single := eventObserver{name: "x", events: &[]string{}}
	assert.Equal(t, single, Observers(single))
}
