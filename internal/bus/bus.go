// SPDX-License-Identifier: MIT

// Package bus is the event transport between the orchestrator and its
// consumers (store, monitoring). Consumers subscribe independently, so the
// core never couples to a concrete persistence layer.
package bus

import "context"

// Message is an opaque event payload.
type Message interface{}

type Subscriber interface {
	// C returns a read-only message channel.
	C() <-chan Message
	// Close unsubscribes.
	Close() error
}

// Bus is the event transport abstraction.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
