// Package action defines the replicated log entries exchanged between peers
// and their wire encoding.
package action

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"coalesce/pkg/types"
	"coalesce/pkg/vclock"
)

// Kind tags an action variant.
type Kind string

const (
	KindCreate     Kind = "file/create"
	KindUpdate     Kind = "file/update"
	KindDelete     Kind = "file/delete"
	KindMove       Kind = "file/move"
	KindPermission Kind = "file/permission"
	KindConflict   Kind = "file/conflict"
	KindLock       Kind = "file/lock"
	KindUnlock     Kind = "file/unlock"
	KindPresence   Kind = "file/presence"
)

// Meta accompanies every action on the wire.
type Meta struct {
	ID       types.ActionID `msgpack:"id" json:"id"`
	Time     time.Time      `msgpack:"time" json:"time"`
	Channels []string       `msgpack:"channels" json:"channels"`
	NodeID   types.NodeID   `msgpack:"node_id" json:"node_id"`
	FileHash string         `msgpack:"file_hash,omitempty" json:"file_hash,omitempty"`
	// ParentVersion is the file version this action assumes as its base.
	ParentVersion string       `msgpack:"parent_version,omitempty" json:"parent_version,omitempty"`
	Clock         vclock.Clock `msgpack:"clock,omitempty" json:"clock,omitempty"`
}

// Action is one immutable log entry. Payload fields are populated according
// to Kind; unrelated fields stay zero and are omitted from the encoding.
type Action struct {
	Kind   Kind         `msgpack:"kind" json:"kind"`
	FileID types.FileID `msgpack:"file_id" json:"file_id"`
	Author types.UserID `msgpack:"author" json:"author"`
	Meta   Meta         `msgpack:"meta" json:"meta"`

	// create / update / conflict resolution
	// Version is the version token the action produces when applied, so
	// every peer that applies it converges on the same token.
	Version string `msgpack:"version,omitempty" json:"version,omitempty"`

	// create / update
	Name     string `msgpack:"name,omitempty" json:"name,omitempty"`
	Path     string `msgpack:"path,omitempty" json:"path,omitempty"`
	Content  []byte `msgpack:"content,omitempty" json:"content,omitempty"`
	MimeType string `msgpack:"mime_type,omitempty" json:"mime_type,omitempty"`
	Reason   string `msgpack:"reason,omitempty" json:"reason,omitempty"`
	// Diff describes how the update rewrites its parent version's content.
	Diff *ContentDiff `msgpack:"diff,omitempty" json:"diff,omitempty"`
	// BlobRef carries the content-addressed reference when the payload
	// exceeded the inline threshold and Content is empty.
	BlobRef string `msgpack:"blob_ref,omitempty" json:"blob_ref,omitempty"`

	// create / permission
	Permissions *types.FilePermissions `msgpack:"permissions,omitempty" json:"permissions,omitempty"`

	// delete
	Soft bool `msgpack:"soft,omitempty" json:"soft,omitempty"`

	// move
	NewPath string `msgpack:"new_path,omitempty" json:"new_path,omitempty"`

	// lock / unlock
	LockID   types.LockID   `msgpack:"lock_id,omitempty" json:"lock_id,omitempty"`
	LockType types.LockType `msgpack:"lock_type,omitempty" json:"lock_type,omitempty"`
	Duration time.Duration  `msgpack:"duration,omitempty" json:"duration,omitempty"`

	// presence
	UserName string               `msgpack:"user_name,omitempty" json:"user_name,omitempty"`
	Presence types.PresenceStatus `msgpack:"presence,omitempty" json:"presence,omitempty"`

	// conflict resolution
	ConflictID types.ConflictID          `msgpack:"conflict_id,omitempty" json:"conflict_id,omitempty"`
	Resolution *types.ConflictResolution `msgpack:"resolution,omitempty" json:"resolution,omitempty"`
}

// ContentDiff is the contiguous span by which an update rewrites the parent
// content: bytes [Start, Start+len(Removed)) are replaced by Inserted.
type ContentDiff struct {
	Start    int    `msgpack:"start" json:"start"`
	Removed  []byte `msgpack:"removed,omitempty" json:"removed,omitempty"`
	Inserted []byte `msgpack:"inserted,omitempty" json:"inserted,omitempty"`
}

// DiffContent computes the minimal single-span diff from old to new by
// trimming the common prefix and suffix. Identical contents diff to nil.
func DiffContent(old, new []byte) *ContentDiff {
	start := 0
	for start < len(old) && start < len(new) && old[start] == new[start] {
		start++
	}
	if start == len(old) && start == len(new) {
		return nil
	}

	oldEnd, newEnd := len(old), len(new)
	for oldEnd > start && newEnd > start && old[oldEnd-1] == new[newEnd-1] {
		oldEnd--
		newEnd--
	}

	return &ContentDiff{
		Start:    start,
		Removed:  append([]byte(nil), old[start:oldEnd]...),
		Inserted: append([]byte(nil), new[start:newEnd]...),
	}
}

// Apply reconstructs the new content from the old.
func (d *ContentDiff) Apply(old []byte) []byte {
	if d == nil {
		return append([]byte(nil), old...)
	}
	out := make([]byte, 0, len(old)-len(d.Removed)+len(d.Inserted))
	out = append(out, old[:d.Start]...)
	out = append(out, d.Inserted...)
	out = append(out, old[d.Start+len(d.Removed):]...)
	return out
}

// NewMeta stamps fresh metadata for an outgoing action.
func NewMeta(nodeID types.NodeID, channels []string, clock vclock.Clock) Meta {
	return Meta{
		ID:       types.ActionID(uuid.NewString()),
		Time:     time.Now().UTC(),
		Channels: channels,
		NodeID:   nodeID,
		Clock:    clock,
	}
}

// Encode serializes the action for transport and storage.
func Encode(a *Action) ([]byte, error) {
	data, err := msgpack.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s action: %w", a.Kind, err)
	}
	return data, nil
}

// Decode deserializes a wire-format action.
func Decode(data []byte) (*Action, error) {
	var a Action
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode action: %w", err)
	}
	if a.Kind == "" {
		return nil, fmt.Errorf("decoded action has no kind")
	}
	return &a, nil
}
