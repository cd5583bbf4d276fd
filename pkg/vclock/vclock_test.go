package vclock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Clock
		expected Ordering
	}{
		{"both empty", Clock{}, Clock{}, Equal},
		{"identical", Clock{"a": 1, "b": 2}, Clock{"a": 1, "b": 2}, Equal},
		{"a dominated", Clock{"a": 1}, Clock{"a": 2}, Before},
		{"a dominates", Clock{"a": 3, "b": 1}, Clock{"a": 2, "b": 1}, After},
		{"concurrent", Clock{"a": 2, "b": 1}, Clock{"a": 1, "b": 2}, Concurrent},
		{"missing id defaults to zero in a", Clock{}, Clock{"b": 1}, Before},
		{"missing id defaults to zero in b", Clock{"a": 1}, Clock{}, After},
		{"disjoint ids are concurrent", Clock{"a": 1}, Clock{"b": 1}, Concurrent},
		{"subset strictly less", Clock{"a": 1}, Clock{"a": 1, "b": 3}, Before},
		{"zero counters ignored", Clock{"a": 1, "b": 0}, Clock{"a": 1}, Equal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Compare(tt.a, tt.b))
		})
	}
}

func TestCompareSymmetry(t *testing.T) {
	a := Clock{"x": 4, "y": 1}
	b := Clock{"x": 2, "y": 5}

	assert.Equal(t, Concurrent, Compare(a, b))
	assert.Equal(t, Concurrent, Compare(b, a))

	c := Clock{"x": 4, "y": 5}
	assert.Equal(t, Before, Compare(a, c))
	assert.Equal(t, After, Compare(c, a))
}

func TestMerge(t *testing.T) {
	a := Clock{"a": 1, "b": 5}
	a.Merge(Clock{"a": 3, "c": 2})

	assert.Equal(t, Clock{"a": 3, "b": 5, "c": 2}, a)
}

func TestTrackerStampAdvancesOwnCounter(t *testing.T) {
	tr := NewTracker("node-1", nil)

	first := tr.Stamp()
	second := tr.Stamp()

	require.Equal(t, uint64(1), first["node-1"])
	require.Equal(t, uint64(2), second["node-1"])

	// Successive stamps from the same node are causally ordered.
	assert.Equal(t, Before, Compare(first, second))
}

func TestTrackerStampReturnsSnapshot(t *testing.T) {
	tr := NewTracker("node-1", nil)

	snap := tr.Stamp()
	snap["node-1"] = 99

	assert.Equal(t, uint64(1), tr.Snapshot()["node-1"])
}

func TestTrackerObserveMerges(t *testing.T) {
	tr := NewTracker("node-1", nil)
	tr.Stamp()
	tr.Observe(Clock{"node-2": 7})

	snap := tr.Snapshot()
	assert.Equal(t, uint64(1), snap["node-1"])
	assert.Equal(t, uint64(7), snap["node-2"])

	// A stamp after observing a remote clock dominates it.
	assert.Equal(t, After, Compare(tr.Stamp(), Clock{"node-2": 7}))
}

func TestTrackerSeed(t *testing.T) {
	tr := NewTracker("node-1", Clock{"node-1": 10, "node-2": 3})

	snap := tr.Stamp()
	assert.Equal(t, uint64(11), snap["node-1"])
	assert.Equal(t, uint64(3), snap["node-2"])
}
