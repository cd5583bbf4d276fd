package engine

import (
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coalesce/pkg/action"
	"coalesce/pkg/blob"
	"coalesce/pkg/types"
)

// CreateFile authors a create action and materializes the file locally with
// pending status. The caller becomes the owner unless perms names one.
func (e *Engine) CreateFile(name string, content []byte, mimeType string, perms types.FilePermissions, parentDir string) (*types.SyncedFile, error) {
	if name == "" {
		return nil, fmt.Errorf("file name must not be empty")
	}
	if parentDir == "" {
		parentDir = "/"
	}
	if perms.Owner == "" {
		perms.Owner = e.userID
	}

	id := types.FileID(uuid.NewString())
	now := e.now().UTC()

	f := &types.SyncedFile{
		ID:          id,
		Name:        name,
		Path:        path.Join(parentDir, name),
		Content:     append([]byte(nil), content...),
		Version:     uuid.NewString(),
		Hash:        blob.HashContent(content),
		Permissions: perms,
		Metadata: types.FileMetadata{
			Size:       int64(len(content)),
			Hash:       blob.HashContent(content),
			CreatedAt:  now,
			ModifiedAt: now,
			MimeType:   mimeType,
		},
		Status:     types.StatusPending,
		LastAuthor: e.userID,
		Clock:      e.tracker.Stamp(),
	}

	a := &action.Action{
		Kind:     action.KindCreate,
		FileID:   id,
		Author:   e.userID,
		Version:  f.Version,
		Name:     name,
		Path:     f.Path,
		MimeType: mimeType,
		Permissions: &types.FilePermissions{
			Owner:        perms.Owner,
			Readers:      append([]types.UserID(nil), perms.Readers...),
			Writers:      append([]types.UserID(nil), perms.Writers...),
			Public:       perms.Public,
			PublicAccess: perms.PublicAccess,
		},
		Meta: action.NewMeta(e.nodeID, channelsFor(f), f.Clock.Copy()),
	}
	a.Meta.FileHash = f.Hash
	if err := e.attachContent(a, content, &f.Metadata); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.files[id] = f
	e.pending[id] = a
	e.subs[FileChannel(id)] = struct{}{}
	e.persistFile(f)
	e.persistPending(a)
	e.persistClock()
	snapshot := f.Clone()
	e.mu.Unlock()

	if err := e.transport.Subscribe(FileChannel(id)); err != nil {
		e.logger.Warn("file channel subscribe failed",
			zap.String("file", string(id)), zap.Error(err))
	}
	e.publish(a)

	return snapshot, nil
}

// UpdateFile authors an update action against the file's current version.
// The caller-visible effect is asynchronous: the action is queued with the
// file marked pending, and content advances when the action is observed as
// applied (its own echo or remote application).
func (e *Engine) UpdateFile(id types.FileID, content []byte, reason string) error {
	e.mu.Lock()
	f, ok := e.files[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, ErrFileNotFound)
	}
	if f.Status == types.StatusConflict {
		e.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, ErrConflictPending)
	}
	if !f.Permissions.CanWrite(e.userID) {
		e.mu.Unlock()
		e.logger.Warn("update denied",
			zap.String("file", string(id)),
			zap.String("user", string(e.userID)))
		return fmt.Errorf("update %s by %s: %w", id, e.userID, ErrPermissionDenied)
	}

	a := &action.Action{
		Kind:    action.KindUpdate,
		FileID:  id,
		Author:  e.userID,
		Version: uuid.NewString(),
		Reason:  reason,
		Diff:    action.DiffContent(f.Content, content),
		Meta:    action.NewMeta(e.nodeID, channelsFor(f), e.tracker.Stamp()),
	}
	a.Meta.ParentVersion = f.Version
	a.Meta.FileHash = blob.HashContent(content)

	var meta types.FileMetadata
	if err := e.attachContent(a, content, &meta); err != nil {
		e.mu.Unlock()
		return err
	}

	// The stamped clock joins the file clock now so a concurrent remote
	// update arriving before our echo is recognized as concurrent.
	f.Clock.Merge(a.Meta.Clock)
	f.Status = types.StatusPending
	e.pending[id] = a
	e.persistFile(f)
	e.persistPending(a)
	e.persistClock()
	e.mu.Unlock()

	e.publish(a)
	return nil
}

// DeleteFile authors a delete action. Soft deletion tags the file rather
// than removing it, keeping the record for undelete and audit.
func (e *Engine) DeleteFile(id types.FileID, soft bool) error {
	a, err := e.authorFileAction(id, func(f *types.SyncedFile) *action.Action {
		return &action.Action{
			Kind:   action.KindDelete,
			FileID: id,
			Author: e.userID,
			Soft:   soft,
		}
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	e.publish(a)
	return nil
}

// MoveFile authors a move action re-homing the file at newPath.
func (e *Engine) MoveFile(id types.FileID, newPath string) error {
	if newPath == "" {
		return fmt.Errorf("move %s: new path must not be empty", id)
	}
	a, err := e.authorFileAction(id, func(f *types.SyncedFile) *action.Action {
		return &action.Action{
			Kind:    action.KindMove,
			FileID:  id,
			Author:  e.userID,
			NewPath: newPath,
		}
	})
	if err != nil {
		return fmt.Errorf("move %s: %w", id, err)
	}
	e.publish(a)
	return nil
}

// SetPermissions authors a permission action replacing the file's
// permission set.
func (e *Engine) SetPermissions(id types.FileID, perms types.FilePermissions) error {
	if perms.Owner == "" {
		return fmt.Errorf("set permissions %s: owner must not be empty", id)
	}
	a, err := e.authorFileAction(id, func(f *types.SyncedFile) *action.Action {
		return &action.Action{
			Kind:        action.KindPermission,
			FileID:      id,
			Author:      e.userID,
			Permissions: &perms,
		}
	})
	if err != nil {
		return fmt.Errorf("set permissions %s: %w", id, err)
	}
	e.publish(a)
	return nil
}

// authorFileAction runs the shared local-mutation gate: the file must exist
// and the caller must hold write access, otherwise no action is appended.
func (e *Engine) authorFileAction(id types.FileID, build func(*types.SyncedFile) *action.Action) (*action.Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	if !f.Permissions.CanWrite(e.userID) {
		e.logger.Warn("mutation denied",
			zap.String("file", string(id)),
			zap.String("user", string(e.userID)))
		return nil, ErrPermissionDenied
	}

	a := build(f)
	a.Meta = action.NewMeta(e.nodeID, channelsFor(f), e.tracker.Stamp())
	f.Clock.Merge(a.Meta.Clock)
	f.Status = types.StatusPending
	e.pending[id] = a
	e.persistFile(f)
	e.persistPending(a)
	e.persistClock()
	return a, nil
}

// attachContent inlines content into the action, or stores it behind the
// blob boundary and carries only the reference when it exceeds the inline
// threshold.
func (e *Engine) attachContent(a *action.Action, content []byte, meta *types.FileMetadata) error {
	if len(content) <= blob.InlineThreshold {
		a.Content = append([]byte(nil), content...)
		return nil
	}
	ref, err := e.blobs.Put(content)
	if err != nil {
		return fmt.Errorf("failed to store oversized content: %w", err)
	}
	a.BlobRef = ref
	meta.IPFSHash = ref
	return nil
}

// resolveContent returns the payload bytes of a create/update action,
// fetching from the blob store when the action carries only a reference.
func (e *Engine) resolveContent(a *action.Action) ([]byte, error) {
	if a.BlobRef == "" {
		return a.Content, nil
	}
	data, err := e.blobs.Get(a.BlobRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blob %s: %w", a.BlobRef, err)
	}
	return data, nil
}

// touch records a successful application on the file.
func touch(f *types.SyncedFile, at time.Time) {
	f.LastSyncAt = at
	if f.Status == types.StatusPending {
		f.Status = types.StatusSynced
	}
}
