package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"coalesce/pkg/action"
	"coalesce/pkg/types"
)

// UpdatePresence authors a presence action announcing this user's activity
// on a file. Presence must never block or fail file operations; it has no
// durability beyond the current session.
func (e *Engine) UpdatePresence(id types.FileID, name string, status types.PresenceStatus) error {
	e.mu.Lock()
	f, ok := e.files[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("presence %s: %w", id, ErrFileNotFound)
	}

	a := &action.Action{
		Kind:     action.KindPresence,
		FileID:   id,
		Author:   e.userID,
		UserName: name,
		Presence: status,
		Meta:     action.NewMeta(e.nodeID, channelsFor(f), e.tracker.Stamp()),
	}
	f.Clock.Merge(a.Meta.Clock)
	e.persistClock()
	e.mu.Unlock()

	e.publish(a)
	return nil
}

func (e *Engine) applyPresence(a *action.Action) []ChangeEvent {
	f, ok := e.files[a.FileID]
	if !ok {
		e.logger.Debug("presence dropped: unknown file",
			zap.String("file", string(a.FileID)))
		return nil
	}

	entry := types.UserPresence{
		UserID:       a.Author,
		Name:         a.UserName,
		Status:       a.Presence,
		LastActivity: a.Meta.Time,
	}

	updated := false
	for i := range f.Presence {
		if f.Presence[i].UserID == a.Author {
			// Keep the freshest activity on out-of-order delivery.
			if f.Presence[i].LastActivity.After(entry.LastActivity) {
				return nil
			}
			f.Presence[i] = entry
			updated = true
			break
		}
	}
	if !updated {
		f.Presence = append(f.Presence, entry)
	}
	f.Clock.Merge(a.Meta.Clock)

	return []ChangeEvent{{Kind: ChangePresence, FileID: f.ID, File: f.Clone()}}
}

// pruneStalePresence drops entries idle past the liveness window. Called
// with e.mu held by the scheduler.
func (e *Engine) pruneStalePresence(now time.Time) []ChangeEvent {
	var events []ChangeEvent
	for _, f := range e.files {
		kept := f.Presence[:0]
		pruned := 0
		for _, p := range f.Presence {
			if now.Sub(p.LastActivity) > types.PresenceTTL {
				pruned++
				continue
			}
			kept = append(kept, p)
		}
		if pruned == 0 {
			continue
		}
		f.Presence = kept
		events = append(events, ChangeEvent{Kind: ChangePresence, FileID: f.ID, File: f.Clone()})
	}
	return events
}
