// Package vclock implements the vector clocks that order replicated actions.
// Concurrency between two clocks is the trigger for conflict detection, so
// Compare follows the happens-before rule exactly: ids absent from one clock
// count as zero.
package vclock

import "sync"

// Clock maps a node id to a monotonically increasing counter.
type Clock map[string]uint64

// Ordering is the result of comparing two clocks.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// New returns an empty clock.
func New() Clock {
	return make(Clock)
}

// Copy returns an independent copy of the clock. A nil clock copies to an
// empty one.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	for id, n := range c {
		out[id] = n
	}
	return out
}

// Tick advances the counter for nodeID by one and returns the new value.
func (c Clock) Tick(nodeID string) uint64 {
	c[nodeID]++
	return c[nodeID]
}

// Merge takes the pointwise maximum of c and other into c.
func (c Clock) Merge(other Clock) {
	for id, n := range other {
		if n > c[id] {
			c[id] = n
		}
	}
}

// Compare determines the causal relation between a and b. a is Before b iff
// every counter of a is <= the matching counter of b and at least one is
// strictly less; if neither clock dominates the pair is Concurrent.
func Compare(a, b Clock) Ordering {
	aLess, bLess := false, false
	for id, an := range a {
		bn := b[id]
		if an < bn {
			aLess = true
		} else if an > bn {
			bLess = true
		}
	}
	for id, bn := range b {
		if _, ok := a[id]; ok {
			continue
		}
		if bn > 0 {
			aLess = true
		}
	}
	switch {
	case aLess && bLess:
		return Concurrent
	case aLess:
		return Before
	case bLess:
		return After
	default:
		return Equal
	}
}

// Tracker owns the node-global clock. It stamps outgoing actions and absorbs
// the clocks of accepted remote actions.
type Tracker struct {
	mu     sync.Mutex
	nodeID string
	clock  Clock
}

// NewTracker creates a tracker for nodeID, optionally seeded from a persisted
// clock snapshot.
func NewTracker(nodeID string, seed Clock) *Tracker {
	t := &Tracker{nodeID: nodeID, clock: New()}
	if seed != nil {
		t.clock = seed.Copy()
	}
	return t
}

// NodeID returns the id this tracker stamps under.
func (t *Tracker) NodeID() string {
	return t.nodeID
}

// Stamp increments the local counter and returns a snapshot of the clock.
// Each stamped action advances the node's own counter by exactly one.
func (t *Tracker) Stamp() Clock {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock.Tick(t.nodeID)
	return t.clock.Copy()
}

// Observe merges a remote clock into the local one. Called whenever a remote
// action is accepted.
func (t *Tracker) Observe(remote Clock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock.Merge(remote)
}

// Snapshot returns a copy of the current clock without advancing it.
func (t *Tracker) Snapshot() Clock {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.Copy()
}
