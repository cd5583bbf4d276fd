package transport

import (
	"context"
	"fmt"
	"sync"

	"coalesce/pkg/action"
	"coalesce/pkg/types"
)

// Bus is an in-process transport connecting multiple engines. Actions are
// run through the wire codec on every hop so endpoints never share memory,
// and delivery is synchronous and per-source ordered. Used by tests and the
// demo CLI.
type Bus struct {
	mu        sync.Mutex
	endpoints map[types.NodeID]*Endpoint

	// Redeliver makes the bus deliver every action twice, exercising the
	// at-least-once contract.
	Redeliver bool
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[types.NodeID]*Endpoint)}
}

// Endpoint attaches a node to the bus, creating its endpoint on first use.
func (b *Bus) Endpoint(nodeID types.NodeID) *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ep, ok := b.endpoints[nodeID]; ok {
		return ep
	}
	ep := &Endpoint{
		bus:      b,
		nodeID:   nodeID,
		channels: make(map[string]struct{}),
	}
	b.endpoints[nodeID] = ep
	return ep
}

// Partition detaches a node from delivery without dropping its
// subscriptions. Reattach with Heal.
func (b *Bus) Partition(nodeID types.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ep, ok := b.endpoints[nodeID]; ok {
		ep.partitioned = true
	}
}

func (b *Bus) Heal(nodeID types.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ep, ok := b.endpoints[nodeID]; ok {
		ep.partitioned = false
	}
}

func (b *Bus) route(a *action.Action) error {
	data, err := action.Encode(a)
	if err != nil {
		return err
	}

	b.mu.Lock()
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		if ep.partitioned || ep.handler == nil {
			continue
		}
		if ep.subscribedAny(a.Meta.Channels) {
			targets = append(targets, ep)
		}
	}
	redeliver := b.Redeliver
	b.mu.Unlock()

	for _, ep := range targets {
		deliveries := 1
		if redeliver {
			deliveries = 2
		}
		for i := 0; i < deliveries; i++ {
			decoded, err := action.Decode(data)
			if err != nil {
				return fmt.Errorf("bus re-decode failed: %w", err)
			}
			ep.handler(decoded)
		}
	}
	return nil
}

// Endpoint is one node's attachment to the Bus.
type Endpoint struct {
	bus         *Bus
	nodeID      types.NodeID
	channels    map[string]struct{}
	handler     Handler
	partitioned bool
}

func (e *Endpoint) Publish(ctx context.Context, a *action.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.bus.route(a)
}

func (e *Endpoint) Subscribe(channel string) error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	e.channels[channel] = struct{}{}
	return nil
}

func (e *Endpoint) Unsubscribe(channel string) error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	delete(e.channels, channel)
	return nil
}

func (e *Endpoint) SetHandler(h Handler) {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	e.handler = h
}

func (e *Endpoint) Close() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	e.handler = nil
	delete(e.bus.endpoints, e.nodeID)
	return nil
}

// subscribedAny is called with the bus lock held.
func (e *Endpoint) subscribedAny(channels []string) bool {
	for _, ch := range channels {
		if _, ok := e.channels[ch]; ok {
			return true
		}
	}
	return false
}
