package engine

import (
	"path"

	"go.uber.org/zap"

	"coalesce/pkg/action"
	"coalesce/pkg/types"
)

// Apply handlers run with e.mu held and return observer events. Remote
// actions referencing unknown files are logged and dropped, never raised:
// they may arrive before their create on an at-least-once transport.

func (e *Engine) applyCreate(a *action.Action) []ChangeEvent {
	if f, ok := e.files[a.FileID]; ok {
		// Our own echo, or a redelivered create: finalize, don't rebuild.
		touch(f, a.Meta.Time)
		e.persistFile(f)
		return []ChangeEvent{{Kind: ChangeCreated, FileID: f.ID, File: f.Clone()}}
	}

	content, err := e.resolveContent(a)
	if err != nil {
		e.logger.Error("create dropped: content unavailable",
			zap.String("file", string(a.FileID)), zap.Error(err))
		return nil
	}

	perms := types.FilePermissions{Owner: a.Author}
	if a.Permissions != nil {
		perms = *a.Permissions
	}

	f := &types.SyncedFile{
		ID:          a.FileID,
		Name:        a.Name,
		Path:        a.Path,
		Content:     append([]byte(nil), content...),
		Version:     a.Version,
		Hash:        a.Meta.FileHash,
		Permissions: perms,
		Metadata: types.FileMetadata{
			Size:       int64(len(content)),
			Hash:       a.Meta.FileHash,
			CreatedAt:  a.Meta.Time,
			ModifiedAt: a.Meta.Time,
			MimeType:   a.MimeType,
			IPFSHash:   a.BlobRef,
		},
		Status:     types.StatusSynced,
		LastSyncAt: a.Meta.Time,
		LastAuthor: a.Author,
		Clock:      a.Meta.Clock.Copy(),
	}
	e.files[f.ID] = f
	e.persistFile(f)

	// Follow the new file so its updates reach us.
	e.subs[FileChannel(f.ID)] = struct{}{}
	if err := e.transport.Subscribe(FileChannel(f.ID)); err != nil {
		e.logger.Warn("file channel subscribe failed",
			zap.String("file", string(f.ID)), zap.Error(err))
	}

	e.logger.Info("file created",
		zap.String("file", string(f.ID)),
		zap.String("path", f.Path),
		zap.String("author", string(a.Author)))

	return []ChangeEvent{{Kind: ChangeCreated, FileID: f.ID, File: f.Clone()}}
}

func (e *Engine) applyUpdate(a *action.Action) []ChangeEvent {
	f, ok := e.files[a.FileID]
	if !ok {
		e.logger.Warn("update dropped: unknown file, create may be in flight",
			zap.String("file", string(a.FileID)),
			zap.String("action", string(a.Meta.ID)))
		return nil
	}

	if f.Status == types.StatusConflict {
		// Ordinary updates are not accepted while a conflict is open;
		// the divergent version joins the pending conflict instead.
		return e.appendConflictVersion(f, a)
	}

	if e.isConflicting(f, a) {
		return e.recordConflict(f, a)
	}

	// Fast path: the action is causally based on our current state.
	content, err := e.resolveContent(a)
	if err != nil {
		e.logger.Error("update dropped: content unavailable",
			zap.String("file", string(a.FileID)), zap.Error(err))
		return nil
	}

	f.Content = append([]byte(nil), content...)
	f.Version = a.Version
	f.Hash = a.Meta.FileHash
	f.Metadata.Size = int64(len(content))
	f.Metadata.Hash = a.Meta.FileHash
	f.Metadata.ModifiedAt = a.Meta.Time
	if a.BlobRef != "" {
		f.Metadata.IPFSHash = a.BlobRef
	}
	f.LastAuthor = a.Author
	f.Clock.Merge(a.Meta.Clock)
	touch(f, a.Meta.Time)
	e.persistFile(f)

	e.logger.Debug("update applied",
		zap.String("file", string(f.ID)),
		zap.String("version", f.Version),
		zap.String("author", string(a.Author)))

	return []ChangeEvent{{Kind: ChangeUpdated, FileID: f.ID, File: f.Clone()}}
}

func (e *Engine) applyDelete(a *action.Action) []ChangeEvent {
	f, ok := e.files[a.FileID]
	if !ok {
		e.logger.Warn("delete dropped: unknown file",
			zap.String("file", string(a.FileID)))
		return nil
	}

	if a.Soft {
		if !f.Metadata.HasTag(types.TagDeleted) {
			f.Metadata.Tags = append(f.Metadata.Tags, types.TagDeleted)
		}
		f.Metadata.ModifiedAt = a.Meta.Time
		f.LastAuthor = a.Author
		f.Clock.Merge(a.Meta.Clock)
		touch(f, a.Meta.Time)
		e.persistFile(f)
		return []ChangeEvent{{Kind: ChangeDeleted, FileID: f.ID, File: f.Clone()}}
	}

	delete(e.files, a.FileID)
	delete(e.pending, a.FileID)
	delete(e.unsaved, a.FileID)
	e.removeFile(a.FileID)
	e.removePending(a.FileID)

	// Stop following the dead id so later actions for it are gated out.
	delete(e.subs, FileChannel(a.FileID))
	if err := e.transport.Unsubscribe(FileChannel(a.FileID)); err != nil {
		e.logger.Warn("file channel unsubscribe failed",
			zap.String("file", string(a.FileID)), zap.Error(err))
	}

	e.logger.Info("file removed",
		zap.String("file", string(a.FileID)),
		zap.String("author", string(a.Author)))

	return []ChangeEvent{{Kind: ChangeDeleted, FileID: a.FileID}}
}

func (e *Engine) applyMove(a *action.Action) []ChangeEvent {
	f, ok := e.files[a.FileID]
	if !ok {
		e.logger.Warn("move dropped: unknown file",
			zap.String("file", string(a.FileID)))
		return nil
	}

	f.Path = a.NewPath
	f.Name = path.Base(a.NewPath)
	f.Metadata.ModifiedAt = a.Meta.Time
	f.LastAuthor = a.Author
	f.Clock.Merge(a.Meta.Clock)
	touch(f, a.Meta.Time)
	e.persistFile(f)

	return []ChangeEvent{{Kind: ChangeMoved, FileID: f.ID, File: f.Clone()}}
}

func (e *Engine) applyPermission(a *action.Action) []ChangeEvent {
	f, ok := e.files[a.FileID]
	if !ok {
		e.logger.Warn("permission change dropped: unknown file",
			zap.String("file", string(a.FileID)))
		return nil
	}
	if a.Permissions == nil {
		e.logger.Warn("permission change dropped: empty permission set",
			zap.String("file", string(a.FileID)))
		return nil
	}

	f.Permissions = *a.Permissions
	f.Metadata.ModifiedAt = a.Meta.Time
	f.LastAuthor = a.Author
	f.Clock.Merge(a.Meta.Clock)
	touch(f, a.Meta.Time)
	e.persistFile(f)

	return []ChangeEvent{{Kind: ChangePermissions, FileID: f.ID, File: f.Clone()}}
}
