package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coalesce/pkg/action"
	"coalesce/pkg/types"
)

func testAction(node types.NodeID, channels ...string) *action.Action {
	return &action.Action{
		Kind:   action.KindUpdate,
		FileID: "file-1",
		Author: "alice",
		Meta:   action.NewMeta(node, channels, nil),
	}
}

func TestBusRoutesByChannel(t *testing.T) {
	bus := NewBus()

	a := bus.Endpoint("node-a")
	b := bus.Endpoint("node-b")
	c := bus.Endpoint("node-c")

	var bGot, cGot []*action.Action
	b.SetHandler(func(act *action.Action) { bGot = append(bGot, act) })
	c.SetHandler(func(act *action.Action) { cGot = append(cGot, act) })

	require.NoError(t, b.Subscribe("file:file-1"))
	require.NoError(t, c.Subscribe("public:files"))

	err := a.Publish(context.Background(), testAction("node-a", "file:file-1"))
	require.NoError(t, err)

	require.Len(t, bGot, 1)
	assert.Equal(t, types.FileID("file-1"), bGot[0].FileID)
	assert.Empty(t, cGot, "unsubscribed channel must not be delivered")
}

func TestBusEchoesToPublisher(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("node-a")

	var got []*action.Action
	a.SetHandler(func(act *action.Action) { got = append(got, act) })
	require.NoError(t, a.Subscribe("file:file-1"))

	require.NoError(t, a.Publish(context.Background(), testAction("node-a", "file:file-1")))

	require.Len(t, got, 1)
	assert.Equal(t, types.NodeID("node-a"), got[0].Meta.NodeID)
}

func TestBusDeliversCopies(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("node-a")
	b := bus.Endpoint("node-b")

	var got *action.Action
	b.SetHandler(func(act *action.Action) { got = act })
	require.NoError(t, b.Subscribe("file:file-1"))

	sent := testAction("node-a", "file:file-1")
	sent.Content = []byte("v1")
	require.NoError(t, a.Publish(context.Background(), sent))

	require.NotNil(t, got)
	got.Content[0] = 'X'
	assert.Equal(t, []byte("v1"), sent.Content, "endpoints must not share action memory")
}

func TestBusRedelivery(t *testing.T) {
	bus := NewBus()
	bus.Redeliver = true

	a := bus.Endpoint("node-a")
	b := bus.Endpoint("node-b")

	count := 0
	b.SetHandler(func(act *action.Action) { count++ })
	require.NoError(t, b.Subscribe("file:file-1"))

	require.NoError(t, a.Publish(context.Background(), testAction("node-a", "file:file-1")))
	assert.Equal(t, 2, count)
}

func TestBusPartition(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("node-a")
	b := bus.Endpoint("node-b")

	count := 0
	b.SetHandler(func(act *action.Action) { count++ })
	require.NoError(t, b.Subscribe("file:file-1"))

	bus.Partition("node-b")
	require.NoError(t, a.Publish(context.Background(), testAction("node-a", "file:file-1")))
	assert.Equal(t, 0, count)

	bus.Heal("node-b")
	require.NoError(t, a.Publish(context.Background(), testAction("node-a", "file:file-1")))
	assert.Equal(t, 1, count)
}

func TestBusCancelledContext(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("node-a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Publish(ctx, testAction("node-a", "file:file-1"))
	assert.Error(t, err)
}
