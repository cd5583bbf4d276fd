package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coalesce/pkg/action"
	"coalesce/pkg/types"
)

// AcquireLock authors a lock action for the file. Locks are advisory
// liveness annotations: they never gate persistence of content, and even
// exclusive locks are not enforced by the engine itself.
func (e *Engine) AcquireLock(id types.FileID, lockType types.LockType, duration time.Duration) (types.LockID, error) {
	if duration <= 0 {
		return "", fmt.Errorf("lock %s: duration must be positive", id)
	}

	e.mu.Lock()
	f, ok := e.files[id]
	if !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("lock %s: %w", id, ErrFileNotFound)
	}

	a := &action.Action{
		Kind:     action.KindLock,
		FileID:   id,
		Author:   e.userID,
		LockID:   types.LockID(uuid.NewString()),
		LockType: lockType,
		Duration: duration,
		Meta:     action.NewMeta(e.nodeID, channelsFor(f), e.tracker.Stamp()),
	}
	f.Clock.Merge(a.Meta.Clock)
	e.persistClock()
	e.mu.Unlock()

	e.publish(a)
	return a.LockID, nil
}

// ReleaseLock authors an unlock action removing the named lock.
func (e *Engine) ReleaseLock(id types.FileID, lockID types.LockID) error {
	e.mu.Lock()
	f, ok := e.files[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unlock %s: %w", id, ErrFileNotFound)
	}

	a := &action.Action{
		Kind:   action.KindUnlock,
		FileID: id,
		Author: e.userID,
		LockID: lockID,
		Meta:   action.NewMeta(e.nodeID, channelsFor(f), e.tracker.Stamp()),
	}
	f.Clock.Merge(a.Meta.Clock)
	e.persistClock()
	e.mu.Unlock()

	e.publish(a)
	return nil
}

func (e *Engine) applyLock(a *action.Action) []ChangeEvent {
	f, ok := e.files[a.FileID]
	if !ok {
		e.logger.Warn("lock dropped: unknown file",
			zap.String("file", string(a.FileID)))
		return nil
	}

	for _, l := range f.Locks {
		if l.ID == a.LockID {
			return nil // redelivered
		}
	}

	lock := types.FileLock{
		ID:         a.LockID,
		Holder:     a.Author,
		Type:       a.LockType,
		AcquiredAt: a.Meta.Time,
		ExpiresAt:  a.Meta.Time.Add(a.Duration),
	}
	f.Locks = append(f.Locks, lock)
	f.Clock.Merge(a.Meta.Clock)
	e.persistFile(f)

	e.logger.Debug("lock acquired",
		zap.String("file", string(f.ID)),
		zap.String("holder", string(a.Author)),
		zap.String("type", string(a.LockType)))

	return []ChangeEvent{{Kind: ChangeLocked, FileID: f.ID, File: f.Clone()}}
}

func (e *Engine) applyUnlock(a *action.Action) []ChangeEvent {
	f, ok := e.files[a.FileID]
	if !ok {
		e.logger.Warn("unlock dropped: unknown file",
			zap.String("file", string(a.FileID)))
		return nil
	}

	kept := f.Locks[:0]
	removed := false
	for _, l := range f.Locks {
		if l.ID == a.LockID {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	f.Locks = kept
	f.Clock.Merge(a.Meta.Clock)
	if !removed {
		return nil
	}
	e.persistFile(f)

	return []ChangeEvent{{Kind: ChangeUnlocked, FileID: f.ID, File: f.Clone()}}
}

// purgeExpiredLocks drops every lock past its absolute expiry. Called with
// e.mu held by the scheduler.
func (e *Engine) purgeExpiredLocks(now time.Time) []ChangeEvent {
	var events []ChangeEvent
	for _, f := range e.files {
		kept := f.Locks[:0]
		expired := 0
		for _, l := range f.Locks {
			if l.Expired(now) {
				expired++
				continue
			}
			kept = append(kept, l)
		}
		if expired == 0 {
			continue
		}
		f.Locks = kept
		e.persistFile(f)
		events = append(events, ChangeEvent{Kind: ChangeUnlocked, FileID: f.ID, File: f.Clone()})
	}
	return events
}
