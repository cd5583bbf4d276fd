package action

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coalesce/pkg/types"
	"coalesce/pkg/vclock"
)

func TestEncodeDecode(t *testing.T) {
	a := &Action{
		Kind:    KindUpdate,
		FileID:  "file-1",
		Author:  "alice",
		Version: "v2",
		Content: []byte("hello"),
		Reason:  "typo fix",
		Meta: Meta{
			ID:            "action-1",
			Time:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Channels:      []string{"file:file-1", "public:files"},
			NodeID:        "node-a",
			FileHash:      "abc123",
			ParentVersion: "v1",
			Clock:         vclock.Clock{"node-a": 3, "node-b": 1},
		},
	}

	data, err := Encode(a)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00, 0x12})
	assert.Error(t, err)
}

func TestDecodeRejectsKindlessAction(t *testing.T) {
	data, err := Encode(&Action{FileID: "x"})
	// Encoding succeeds; the decoder is the gate.
	require.NoError(t, err)
	_, err = Decode(data)
	assert.Error(t, err)
}

func TestNewMetaStampsIdentity(t *testing.T) {
	clock := vclock.Clock{"node-a": 1}
	m := NewMeta("node-a", []string{"public:files"}, clock)

	assert.NotEmpty(t, m.ID)
	assert.False(t, m.Time.IsZero())
	assert.Equal(t, types.NodeID("node-a"), m.NodeID)
	assert.Equal(t, clock, m.Clock)

	m2 := NewMeta("node-a", nil, nil)
	assert.NotEqual(t, m.ID, m2.ID)
}

func TestDiffContent(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
	}{
		{"replace middle", "hello world", "hello brave world"},
		{"append", "v1", "v1 and more"},
		{"prepend", "tail", "head tail"},
		{"truncate", "hello world", "hello"},
		{"rewrite", "alpha", "omega"},
		{"from empty", "", "content"},
		{"to empty", "content", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DiffContent([]byte(tt.old), []byte(tt.new))
			require.NotNil(t, d)
			assert.Equal(t, []byte(tt.new), d.Apply([]byte(tt.old)))
			assert.LessOrEqual(t, len(d.Removed), len(tt.old))
			assert.LessOrEqual(t, len(d.Inserted), len(tt.new))
		})
	}
}

func TestDiffContentIdentical(t *testing.T) {
	assert.Nil(t, DiffContent([]byte("same"), []byte("same")))

	var d *ContentDiff
	assert.Equal(t, []byte("same"), d.Apply([]byte("same")))
}

func TestResolutionPayloadRoundTrip(t *testing.T) {
	res := &types.ConflictResolution{
		Type:       "merge",
		Content:    []byte("merged"),
		ResolvedBy: "bob",
		ResolvedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	a := &Action{
		Kind:       KindConflict,
		FileID:     "file-1",
		Author:     "bob",
		ConflictID: "conflict-1",
		Resolution: res,
		Meta:       Meta{ID: "action-2", NodeID: "node-b"},
	}

	data, err := Encode(a)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	require.NotNil(t, got.Resolution)
	assert.Equal(t, res, got.Resolution)
}
