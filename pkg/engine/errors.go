package engine

import "errors"

var (
	// ErrPermissionDenied is raised locally before an action is appended.
	// It is never propagated to remote peers.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrFileNotFound is raised when a local operation targets an unknown
	// file id. Remote actions referencing unknown files are logged and
	// dropped instead, since they may arrive before their create.
	ErrFileNotFound = errors.New("file not found")

	// ErrHashMismatch means a resolved conflict's merged content failed
	// its own integrity check. The resolution attempt is not applied.
	ErrHashMismatch = errors.New("content hash mismatch")

	// ErrConflictPending rejects ordinary updates to a file that has an
	// unresolved conflict.
	ErrConflictPending = errors.New("file has an unresolved conflict")

	// ErrUnknownConflict is raised when a resolution targets a conflict id
	// the local node has never seen.
	ErrUnknownConflict = errors.New("conflict not found")

	// ErrConflictResolved is raised when a resolution targets a conflict
	// that is already resolved.
	ErrConflictResolved = errors.New("conflict already resolved")
)
