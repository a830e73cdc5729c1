package pubsub

import (
	"context"
	"fmt"
	"net/url"
)

// ActionNavigate is the action name published by a Navigator.
const ActionNavigate = "navigate"

// Location is the data carried by a navigate action.
type Location struct {
	Path     string
	Query    url.Values
	Fragment string
	Raw      string
}

// Navigator turns URL-change notifications into navigate actions.
type Navigator struct {
	bus *Bus
}

// NewNavigator creates a navigator publishing on bus.
func NewNavigator(bus *Bus) *Navigator {
	return &Navigator{bus: bus}
}

// Navigate parses rawURL and publishes it as a navigate action.
func (n *Navigator) Navigate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse location %q: %w", rawURL, err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return n.bus.Publish(ctx, ActionNavigate, Location{
		Path:     path,
		Query:    u.Query(),
		Fragment: u.Fragment,
		Raw:      rawURL,
	})
}

// Listen publishes every URL received on changes until the channel is
// closed, the context is done or a publish fails.
//
// Returns nil when changes is closed, ctx.Err() on cancellation, and the
// first publish error otherwise.
func (n *Navigator) Listen(ctx context.Context, changes <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rawURL, ok := <-changes:
			if !ok {
				return nil
			}
			if err := n.Navigate(ctx, rawURL); err != nil {
				return err
			}
		}
	}
}
