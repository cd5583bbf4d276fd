// Package transport defines the delivery boundary between peers. The engine
// never assumes a specific delivery technology; it is handed a Transport and
// relies only on at-least-once delivery with per-source ordering. Exactly-once
// and cross-node ordering are explicitly not required; the conflict detector
// absorbs their absence.
package transport

import (
	"context"

	"coalesce/pkg/action"
)

// Handler receives inbound actions from the wire.
type Handler func(*action.Action)

// Transport delivers actions tagged with a channel to every node subscribed
// to that channel.
type Transport interface {
	// Publish hands an action to the network for delivery. Success means
	// the action is logged for send, not that any peer has applied it.
	Publish(ctx context.Context, a *action.Action) error

	Subscribe(channel string) error
	Unsubscribe(channel string) error

	// SetHandler registers the inbound delivery callback. Actions from the
	// same source node arrive in the order they were stamped.
	SetHandler(h Handler)

	Close() error
}
