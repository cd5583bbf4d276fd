package engine

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coalesce/pkg/action"
	"coalesce/pkg/blob"
	"coalesce/pkg/types"
	"coalesce/pkg/vclock"
)

// isConflicting decides whether an incoming update diverges from local
// state: either it was authored against a different base version, or its
// clock is concurrent with the file's.
func (e *Engine) isConflicting(f *types.SyncedFile, a *action.Action) bool {
	if a.Meta.ParentVersion != f.Version {
		return true
	}
	return vclock.Compare(a.Meta.Clock, f.Clock) == vclock.Concurrent
}

// localImage is the version this node would defend in a conflict: the
// queued pending action if one exists, otherwise the materialized state.
func (e *Engine) localImage(f *types.SyncedFile) types.ConflictVersion {
	if p, ok := e.pending[f.ID]; ok && (p.Kind == action.KindUpdate || p.Kind == action.KindCreate) {
		content, err := e.resolveContent(p)
		if err != nil {
			e.logger.Error("pending content unavailable, defending materialized state",
				zap.String("file", string(f.ID)), zap.Error(err))
		} else {
			return types.ConflictVersion{
				VersionID: p.Version,
				Author:    p.Author,
				Content:   append([]byte(nil), content...),
				Timestamp: p.Meta.Time,
				Clock:     p.Meta.Clock.Copy(),
			}
		}
	}
	return types.ConflictVersion{
		VersionID: f.Version,
		Author:    f.LastAuthor,
		Content:   append([]byte(nil), f.Content...),
		Timestamp: f.Metadata.ModifiedAt,
		Clock:     f.Clock.Copy(),
	}
}

// remoteImage captures the incoming divergent version.
func (e *Engine) remoteImage(a *action.Action) (types.ConflictVersion, error) {
	content, err := e.resolveContent(a)
	if err != nil {
		return types.ConflictVersion{}, err
	}
	return types.ConflictVersion{
		VersionID: a.Version,
		Author:    a.Author,
		Content:   append([]byte(nil), content...),
		Timestamp: a.Meta.Time,
		Clock:     a.Meta.Clock.Copy(),
	}, nil
}

// recordConflict materializes a FileConflict from the local pre-image and
// the incoming remote image. The file's visible content stays the local
// pre-conflict version until a resolution is applied, never the arriving
// one.
func (e *Engine) recordConflict(f *types.SyncedFile, a *action.Action) []ChangeEvent {
	remote, err := e.remoteImage(a)
	if err != nil {
		e.logger.Error("conflicting update dropped: content unavailable",
			zap.String("file", string(f.ID)), zap.Error(err))
		return nil
	}
	local := e.localImage(f)

	c := &types.FileConflict{
		ID:        types.ConflictID(uuid.NewString()),
		FileID:    f.ID,
		Versions:  []types.ConflictVersion{local, remote},
		Status:    types.ConflictPending,
		CreatedAt: e.now().UTC(),
	}
	e.conflicts[c.ID] = c
	e.conflictByFile[f.ID] = c.ID

	f.Status = types.StatusConflict
	f.ConflictVersions = []string{local.VersionID, remote.VersionID}
	e.persistConflict(c)
	e.persistFile(f)

	e.logger.Warn("conflict detected",
		zap.String("file", string(f.ID)),
		zap.String("conflict", string(c.ID)),
		zap.String("local_version", local.VersionID),
		zap.String("remote_version", remote.VersionID),
		zap.String("remote_author", string(a.Author)))

	return []ChangeEvent{{Kind: ChangeConflict, FileID: f.ID, File: f.Clone()}}
}

// appendConflictVersion folds another divergent writer into the file's
// already-pending conflict rather than opening a second one.
func (e *Engine) appendConflictVersion(f *types.SyncedFile, a *action.Action) []ChangeEvent {
	id, ok := e.conflictByFile[f.ID]
	if !ok {
		return e.recordConflict(f, a)
	}
	c := e.conflicts[id]

	for _, v := range c.Versions {
		if v.VersionID == a.Version {
			return nil // already represented
		}
	}

	remote, err := e.remoteImage(a)
	if err != nil {
		e.logger.Error("conflicting update dropped: content unavailable",
			zap.String("file", string(f.ID)), zap.Error(err))
		return nil
	}
	c.Versions = append(c.Versions, remote)
	f.ConflictVersions = append(f.ConflictVersions, remote.VersionID)
	e.persistConflict(c)
	e.persistFile(f)

	e.logger.Warn("conflict widened",
		zap.String("file", string(f.ID)),
		zap.String("conflict", string(c.ID)),
		zap.Int("versions", len(c.Versions)))

	return []ChangeEvent{{Kind: ChangeConflict, FileID: f.ID, File: f.Clone()}}
}

// ResolveConflict emits a conflict action carrying the chosen or merged
// content. Any peer may submit a resolution; the last one applied while the
// conflict is still pending wins.
func (e *Engine) ResolveConflict(id types.ConflictID, res types.ConflictResolution) error {
	e.mu.Lock()
	c, ok := e.conflicts[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("resolve %s: %w", id, ErrUnknownConflict)
	}
	if c.Status == types.ConflictResolved {
		e.mu.Unlock()
		return fmt.Errorf("resolve %s: %w", id, ErrConflictResolved)
	}
	f, ok := e.files[c.FileID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("resolve %s: file %s: %w", id, c.FileID, ErrFileNotFound)
	}

	if res.ResolvedBy == "" {
		res.ResolvedBy = e.userID
	}
	res.ResolvedAt = e.now().UTC()

	a := &action.Action{
		Kind:       action.KindConflict,
		FileID:     f.ID,
		Author:     res.ResolvedBy,
		Version:    uuid.NewString(),
		ConflictID: id,
		Resolution: &res,
		Meta:       action.NewMeta(e.nodeID, channelsFor(f), e.tracker.Stamp()),
	}
	a.Meta.FileHash = blob.HashContent(res.Content)

	f.Clock.Merge(a.Meta.Clock)
	e.pending[f.ID] = a
	e.persistPending(a)
	e.persistClock()
	e.mu.Unlock()

	e.publish(a)
	return nil
}

// applyResolution applies a conflict action. Idempotent: a conflict already
// resolved is left untouched, so re-applying the same resolution cannot
// produce a second, different state. A merged payload failing its own
// integrity check is fatal for the attempt and is never applied.
func (e *Engine) applyResolution(a *action.Action) []ChangeEvent {
	if a.Resolution == nil {
		e.logger.Warn("resolution dropped: no payload",
			zap.String("action", string(a.Meta.ID)))
		return nil
	}

	f, ok := e.files[a.FileID]
	if !ok {
		e.logger.Warn("resolution dropped: unknown file",
			zap.String("file", string(a.FileID)))
		return nil
	}

	// Resolutions from other nodes carry their node-local conflict id;
	// fall back to this file's open conflict.
	c, ok := e.conflicts[a.ConflictID]
	if !ok {
		if localID, found := e.conflictByFile[a.FileID]; found {
			c = e.conflicts[localID]
		}
	}
	if c != nil && c.Status == types.ConflictResolved {
		return nil
	}

	if !blob.Verify(a.Resolution.Content, a.Meta.FileHash) {
		e.logger.Error("resolution rejected: merged content failed integrity check",
			zap.String("file", string(a.FileID)),
			zap.String("action", string(a.Meta.ID)),
			zap.Error(ErrHashMismatch))
		return nil
	}

	f.Content = append([]byte(nil), a.Resolution.Content...)
	f.Version = a.Version
	f.Hash = a.Meta.FileHash
	f.Metadata.Size = int64(len(a.Resolution.Content))
	f.Metadata.Hash = a.Meta.FileHash
	f.Metadata.ModifiedAt = a.Meta.Time
	f.LastAuthor = a.Resolution.ResolvedBy
	f.Clock.Merge(a.Meta.Clock)
	f.ConflictVersions = nil
	f.Status = types.StatusSynced
	f.LastSyncAt = a.Meta.Time
	e.persistFile(f)

	if c != nil {
		c.Status = types.ConflictResolved
		res := *a.Resolution
		c.Resolution = &res
		delete(e.conflictByFile, f.ID)
		e.persistConflict(c)
	}

	e.logger.Info("conflict resolved",
		zap.String("file", string(f.ID)),
		zap.String("resolved_by", string(a.Resolution.ResolvedBy)),
		zap.String("type", a.Resolution.Type))

	return []ChangeEvent{{Kind: ChangeResolved, FileID: f.ID, File: f.Clone()}}
}
