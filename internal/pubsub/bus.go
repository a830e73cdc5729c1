// Package pubsub layers named actions on top of the dispatch engine.
//
// A Bus publishes Action values through a dispatch.Dispatcher and lets
// subscribers either see every action or only the names they route. Nothing
// here touches engine internals; it composes Register, Dispatch and WaitFor.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/flux/internal/dispatch"
)

// ErrEmptyActionName is returned by Publish when the name is empty.
var ErrEmptyActionName = errors.New("pubsub: action name is required")

// Action is the payload dispatched by a Bus.
type Action struct {
	// Name discriminates actions. Always NFC normalized.
	Name string

	// Data is passed to handlers unmodified.
	Data any
}

// Handler receives every action published on the bus.
type Handler func(ctx context.Context, action Action) error

// HandlerFunc receives the data of one routed action.
type HandlerFunc func(ctx context.Context, data any) error

// Routes maps action names to handlers.
type Routes map[string]HandlerFunc

// Bus publishes named actions through a dispatcher.
type Bus struct {
	d *dispatch.Dispatcher
}

// NewBus wraps d. The dispatcher may still be used directly; raw payloads
// that are not Actions are ignored by Bus subscribers.
func NewBus(d *dispatch.Dispatcher) *Bus {
	return &Bus{d: d}
}

// Dispatcher returns the underlying engine.
func (b *Bus) Dispatcher() *dispatch.Dispatcher {
	return b.d
}

// Publish dispatches Action{Name: name, Data: data} to every subscriber.
// Errors from the engine and from handlers are returned unchanged.
func (b *Bus) Publish(ctx context.Context, name string, data any) error {
	name = NormalizeName(name)
	if name == "" {
		return ErrEmptyActionName
	}
	return b.d.Dispatch(ctx, Action{Name: name, Data: data})
}

// Subscribe registers h for every action.
func (b *Bus) Subscribe(h Handler) dispatch.Token {
	if h == nil {
		panic("pubsub: Subscribe called with nil handler")
	}
	return b.d.RegisterFunc(func(ctx context.Context, payload any) error {
		action, ok := payload.(Action)
		if !ok {
			return nil
		}
		return h(ctx, action)
	})
}

// Handle registers a subscriber that only reacts to the routed names.
// Route keys are NFC normalized once, at registration.
func (b *Bus) Handle(routes Routes) dispatch.Token {
	table := make(map[string]HandlerFunc, len(routes))
	for name, h := range routes {
		if h == nil {
			panic(fmt.Sprintf("pubsub: nil handler for action %q", name))
		}
		table[NormalizeName(name)] = h
	}

	return b.Subscribe(func(ctx context.Context, action Action) error {
		h, ok := table[action.Name]
		if !ok {
			return nil
		}
		return h(ctx, action.Data)
	})
}

// Unsubscribe removes the subscriber registered under token.
func (b *Bus) Unsubscribe(token dispatch.Token) error {
	return b.d.Unregister(token)
}

// WaitFor forwards to the engine; only valid inside a handler.
func (b *Bus) WaitFor(ctx context.Context, tokens ...dispatch.Token) error {
	return b.d.WaitFor(ctx, tokens...)
}

// IsDispatching reports whether an action is being published.
func (b *Bus) IsDispatching() bool {
	return b.d.IsDispatching()
}

// NormalizeName returns the NFC form of name, so that visually identical
// names built from different code point sequences route the same way.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}
