package types

import (
	"time"

	"coalesce/pkg/vclock"
)

type NodeID string
type UserID string
type FileID string
type ActionID string
type ConflictID string
type LockID string

// SyncStatus describes where a file sits in the replication lifecycle.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
	StatusOffline  SyncStatus = "offline"
)

// AccessLevel applies to public files only.
type AccessLevel string

const (
	AccessRead  AccessLevel = "read"
	AccessWrite AccessLevel = "write"
	AccessAdmin AccessLevel = "admin"
)

type LockType string

const (
	LockEdit      LockType = "edit"
	LockView      LockType = "view"
	LockExclusive LockType = "exclusive"
)

type PresenceStatus string

const (
	PresenceViewing PresenceStatus = "viewing"
	PresenceEditing PresenceStatus = "editing"
	PresenceIdle    PresenceStatus = "idle"
)

// TagDeleted marks a soft-deleted file in its metadata tags.
const TagDeleted = "deleted"

// PresenceTTL is the liveness window after which presence entries are pruned.
const PresenceTTL = 5 * time.Minute

type FilePermissions struct {
	Owner        UserID      `msgpack:"owner" json:"owner"`
	Readers      []UserID    `msgpack:"readers" json:"readers"`
	Writers      []UserID    `msgpack:"writers" json:"writers"`
	Public       bool        `msgpack:"public" json:"public"`
	PublicAccess AccessLevel `msgpack:"public_access" json:"public_access"`
}

// CanWrite reports whether user may mutate a file carrying these permissions.
func (p FilePermissions) CanWrite(user UserID) bool {
	if user == p.Owner {
		return true
	}
	for _, w := range p.Writers {
		if w == user {
			return true
		}
	}
	if p.Public && (p.PublicAccess == AccessWrite || p.PublicAccess == AccessAdmin) {
		return user != ""
	}
	return false
}

// CanRead reports whether user may observe a file carrying these permissions.
func (p FilePermissions) CanRead(user UserID) bool {
	if p.CanWrite(user) {
		return true
	}
	for _, r := range p.Readers {
		if r == user {
			return true
		}
	}
	return p.Public
}

type FileMetadata struct {
	Size       int64     `msgpack:"size" json:"size"`
	Hash       string    `msgpack:"hash" json:"hash"`
	CreatedAt  time.Time `msgpack:"created_at" json:"created_at"`
	ModifiedAt time.Time `msgpack:"modified_at" json:"modified_at"`
	Tags       []string  `msgpack:"tags" json:"tags"`
	MimeType   string    `msgpack:"mime_type" json:"mime_type"`
	// IPFSHash references externally stored content when the payload
	// exceeded the inline threshold. The engine keeps the reference only.
	IPFSHash string `msgpack:"ipfs_hash,omitempty" json:"ipfs_hash,omitempty"`
}

// HasTag reports whether tag is present in the metadata tag list.
func (m FileMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// FileLock is an advisory lock. The engine surfaces lock state to callers
// but never blocks writes by non-holders.
type FileLock struct {
	ID         LockID    `msgpack:"id" json:"id"`
	Holder     UserID    `msgpack:"holder" json:"holder"`
	Type       LockType  `msgpack:"type" json:"type"`
	AcquiredAt time.Time `msgpack:"acquired_at" json:"acquired_at"`
	ExpiresAt  time.Time `msgpack:"expires_at" json:"expires_at"`
}

// Expired reports whether the lock's absolute expiry has passed.
func (l FileLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

type UserPresence struct {
	UserID       UserID         `msgpack:"user_id" json:"user_id"`
	Name         string         `msgpack:"name" json:"name"`
	Status       PresenceStatus `msgpack:"status" json:"status"`
	LastActivity time.Time      `msgpack:"last_activity" json:"last_activity"`
}

type ConflictVersion struct {
	VersionID string       `msgpack:"version_id" json:"version_id"`
	Author    UserID       `msgpack:"author" json:"author"`
	Content   []byte       `msgpack:"content" json:"content"`
	Timestamp time.Time    `msgpack:"timestamp" json:"timestamp"`
	Clock     vclock.Clock `msgpack:"clock" json:"clock"`
}

type ConflictResolution struct {
	Type       string    `msgpack:"type" json:"type"`
	Content    []byte    `msgpack:"content" json:"content"`
	ResolvedBy UserID    `msgpack:"resolved_by" json:"resolved_by"`
	ResolvedAt time.Time `msgpack:"resolved_at" json:"resolved_at"`
}

type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// FileConflict records divergent concurrent versions of one file. Conflicts
// are first-class state, not errors; resolved conflicts are retained for audit.
type FileConflict struct {
	ID         ConflictID          `msgpack:"id" json:"id"`
	FileID     FileID              `msgpack:"file_id" json:"file_id"`
	Versions   []ConflictVersion   `msgpack:"versions" json:"versions"`
	Status     ConflictStatus      `msgpack:"status" json:"status"`
	CreatedAt  time.Time           `msgpack:"created_at" json:"created_at"`
	Resolution *ConflictResolution `msgpack:"resolution,omitempty" json:"resolution,omitempty"`
}

// SyncedFile is the materialized state of one document. Instances are owned
// exclusively by the engine; callers receive deep copies.
type SyncedFile struct {
	ID          FileID          `msgpack:"id" json:"id"`
	Name        string          `msgpack:"name" json:"name"`
	Path        string          `msgpack:"path" json:"path"`
	Content     []byte          `msgpack:"content" json:"content"`
	Version     string          `msgpack:"version" json:"version"`
	Hash        string          `msgpack:"hash" json:"hash"`
	Permissions FilePermissions `msgpack:"permissions" json:"permissions"`
	Metadata    FileMetadata    `msgpack:"metadata" json:"metadata"`
	Status      SyncStatus      `msgpack:"status" json:"status"`
	LastSyncAt  time.Time       `msgpack:"last_sync_at" json:"last_sync_at"`
	LastAuthor  UserID          `msgpack:"last_author" json:"last_author"`
	Clock       vclock.Clock    `msgpack:"clock" json:"clock"`

	// ConflictVersions holds the divergent version ids while Status is
	// StatusConflict; empty otherwise.
	ConflictVersions []string       `msgpack:"conflict_versions,omitempty" json:"conflict_versions,omitempty"`
	Locks            []FileLock     `msgpack:"locks,omitempty" json:"locks,omitempty"`
	Presence         []UserPresence `msgpack:"presence,omitempty" json:"presence,omitempty"`
}

// Clone returns a deep copy safe to hand outside the engine.
func (f *SyncedFile) Clone() *SyncedFile {
	if f == nil {
		return nil
	}
	c := *f
	c.Content = append([]byte(nil), f.Content...)
	c.Clock = f.Clock.Copy()
	c.Permissions.Readers = append([]UserID(nil), f.Permissions.Readers...)
	c.Permissions.Writers = append([]UserID(nil), f.Permissions.Writers...)
	c.Metadata.Tags = append([]string(nil), f.Metadata.Tags...)
	c.ConflictVersions = append([]string(nil), f.ConflictVersions...)
	c.Locks = append([]FileLock(nil), f.Locks...)
	c.Presence = append([]UserPresence(nil), f.Presence...)
	return &c
}
