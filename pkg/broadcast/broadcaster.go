// Package broadcast fans committed capacity facts out to viewers.
//
// Delivery is at-least-once with no history: a subscription only sees facts
// published after it attached, and receivers drop any fact whose version is
// not newer than the last one they applied.
package broadcast

import (
	"context"

	"rsvp/pkg/model"
)

// Broadcaster accepts a committed fact. Publish must not block the caller.
type Broadcaster interface {
	Publish(ctx context.Context, fact model.CapacityChangeFact)
}

// Topic names the per-event channel viewers subscribe to.
func Topic(eventID string) string {
	return "capacity/" + eventID
}

// Fanout publishes every fact to each of its members in order.
type Fanout []Broadcaster

func (f Fanout) Publish(ctx context.Context, fact model.CapacityChangeFact) {
	for _, b := range f {
		if b != nil {
			b.Publish(ctx, fact)
		}
	}
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(ctx context.Context, fact model.CapacityChangeFact)

func (fn BroadcasterFunc) Publish(ctx context.Context, fact model.CapacityChangeFact) {
	fn(ctx, fact)
}
