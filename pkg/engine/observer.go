package engine

import "coalesce/pkg/types"

// ChangeKind names the specific state change an observer is told about.
type ChangeKind string

const (
	ChangeCreated     ChangeKind = "created"
	ChangeUpdated     ChangeKind = "updated"
	ChangeDeleted     ChangeKind = "deleted"
	ChangeMoved       ChangeKind = "moved"
	ChangePermissions ChangeKind = "permissions"
	ChangeLocked      ChangeKind = "locked"
	ChangeUnlocked    ChangeKind = "unlocked"
	ChangePresence    ChangeKind = "presence"
	ChangeConflict    ChangeKind = "conflict"
	ChangeResolved    ChangeKind = "resolved"
)

// ChangeEvent is delivered to watchers after an action has been applied.
// File is a snapshot; it is nil for hard deletes.
type ChangeEvent struct {
	Kind   ChangeKind
	FileID types.FileID
	File   *types.SyncedFile
}

// Watch registers an observer and returns its cancel function. Events are
// emitted outside the engine lock, so observers may call back into the
// engine.
func (e *Engine) Watch(fn func(ChangeEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextWatcher
	e.nextWatcher++
	e.watchers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.watchers, id)
	}
}

// emit delivers events to all watchers. Must be called without e.mu held.
func (e *Engine) emit(events []ChangeEvent) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	fns := make([]func(ChangeEvent), 0, len(e.watchers))
	for _, fn := range e.watchers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
