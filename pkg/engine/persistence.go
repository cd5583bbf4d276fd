package engine

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"coalesce/pkg/action"
	"coalesce/pkg/store"
	"coalesce/pkg/types"
	"coalesce/pkg/vclock"
)

// Store key prefixes. The whole corpus is loaded at startup and written
// through on every mutation.
const (
	fileKeyPrefix     = "file/"
	conflictKeyPrefix = "conflict/"
	pendingKeyPrefix  = "pending/"
	clockKey          = "clock"
)

func fileKey(id types.FileID) []byte {
	return []byte(fileKeyPrefix + string(id))
}

func conflictKey(id types.ConflictID) []byte {
	return []byte(conflictKeyPrefix + string(id))
}

func pendingKey(id types.FileID) []byte {
	return []byte(pendingKeyPrefix + string(id))
}

// persistFile writes a file through to the store. Failures never roll back
// in-memory state: the file is marked pending and unsaved, and the scheduler
// retries the write.
func (e *Engine) persistFile(f *types.SyncedFile) {
	data, err := msgpack.Marshal(f)
	if err != nil {
		e.logger.Error("file encode failed", zap.String("file", string(f.ID)), zap.Error(err))
		return
	}
	if err := e.kv.Put(fileKey(f.ID), data); err != nil {
		e.logger.Warn("file write failed, will retry on sync tick",
			zap.String("file", string(f.ID)), zap.Error(err))
		// A synced file falls back to pending until a write lands; a
		// conflicted file keeps rejecting ordinary updates regardless of
		// storage health. The unsaved set alone drives the retry.
		if f.Status == types.StatusSynced {
			f.Status = types.StatusPending
		}
		e.unsaved[f.ID] = struct{}{}
		return
	}
	delete(e.unsaved, f.ID)
}

func (e *Engine) removeFile(id types.FileID) {
	if err := e.kv.Delete(fileKey(id)); err != nil {
		e.logger.Warn("file delete from store failed",
			zap.String("file", string(id)), zap.Error(err))
	}
}

func (e *Engine) persistConflict(c *types.FileConflict) {
	data, err := msgpack.Marshal(c)
	if err != nil {
		e.logger.Error("conflict encode failed", zap.String("conflict", string(c.ID)), zap.Error(err))
		return
	}
	if err := e.kv.Put(conflictKey(c.ID), data); err != nil {
		e.logger.Warn("conflict write failed",
			zap.String("conflict", string(c.ID)), zap.Error(err))
	}
}

// persistPending stores the file's last unacknowledged action so the
// scheduler can keep re-broadcasting it across restarts.
func (e *Engine) persistPending(a *action.Action) {
	data, err := action.Encode(a)
	if err != nil {
		e.logger.Error("pending action encode failed",
			zap.String("file", string(a.FileID)), zap.Error(err))
		return
	}
	if err := e.kv.Put(pendingKey(a.FileID), data); err != nil {
		e.logger.Warn("pending action write failed",
			zap.String("file", string(a.FileID)), zap.Error(err))
	}
}

func (e *Engine) removePending(id types.FileID) {
	if err := e.kv.Delete(pendingKey(id)); err != nil {
		e.logger.Warn("pending action delete from store failed",
			zap.String("file", string(id)), zap.Error(err))
	}
}

func (e *Engine) persistClock() {
	snap := e.tracker.Snapshot()
	data, err := msgpack.Marshal(snap)
	if err != nil {
		e.logger.Error("clock encode failed", zap.Error(err))
		return
	}
	if err := e.kv.Put([]byte(clockKey), data); err != nil {
		e.logger.Warn("clock write failed", zap.Error(err))
	}
}

// loadState restores files, conflicts and the clock seed from the store.
// Presence entries have no durability beyond a session and are discarded;
// locks are kept since their expiry is absolute and the scheduler purges
// stale ones on the first tick.
func (e *Engine) loadState() (vclock.Clock, error) {
	err := e.kv.List([]byte(fileKeyPrefix), func(key, value []byte) error {
		var f types.SyncedFile
		if err := msgpack.Unmarshal(value, &f); err != nil {
			return fmt.Errorf("corrupt file record %s: %w", key, err)
		}
		f.Presence = nil
		if f.Clock == nil {
			f.Clock = vclock.New()
		}
		e.files[f.ID] = &f
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = e.kv.List([]byte(conflictKeyPrefix), func(key, value []byte) error {
		var c types.FileConflict
		if err := msgpack.Unmarshal(value, &c); err != nil {
			return fmt.Errorf("corrupt conflict record %s: %w", key, err)
		}
		e.conflicts[c.ID] = &c
		if c.Status == types.ConflictPending {
			e.conflictByFile[c.FileID] = c.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Unacknowledged actions resume their re-broadcast cadence. A record
	// already reflected in file state was applied before its store delete
	// landed; re-broadcasting it would conflict with its own echo.
	var stale []types.FileID
	err = e.kv.List([]byte(pendingKeyPrefix), func(key, value []byte) error {
		a, err := action.Decode(value)
		if err != nil {
			return fmt.Errorf("corrupt pending record %s: %w", key, err)
		}
		if f, ok := e.files[a.FileID]; ok {
			applied := false
			switch a.Kind {
			case action.KindUpdate, action.KindConflict:
				// These advance the version when applied.
				applied = a.Version != "" && f.Version == a.Version
			case action.KindCreate:
				// A create shares the file's birth version; only its
				// echo moves the file out of pending.
				applied = f.Status == types.StatusSynced && f.Version == a.Version
			}
			if applied {
				stale = append(stale, a.FileID)
				return nil
			}
		}
		e.pending[a.FileID] = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range stale {
		e.removePending(id)
	}

	data, err := e.kv.Get([]byte(clockKey))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read clock: %w", err)
	}
	var seed vclock.Clock
	if err := msgpack.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("corrupt clock record: %w", err)
	}
	return seed, nil
}
