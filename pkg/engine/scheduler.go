package engine

import (
	"time"

	"go.uber.org/zap"

	"coalesce/pkg/action"
	"coalesce/pkg/types"
)

// schedulerLoop is the only component that runs unconditionally on a timer.
// Everything else reacts to explicit calls or inbound actions.
func (e *Engine) schedulerLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick runs one scheduler pass: purge expired locks and stale presence,
// retry failed store writes, re-broadcast actions stuck pending, and
// refresh transport subscriptions. Exported so tests and embedders can
// drive it deterministically.
func (e *Engine) Tick() {
	now := e.now()

	e.mu.Lock()

	events := e.purgeExpiredLocks(now)
	events = append(events, e.pruneStalePresence(now)...)

	// Retry writes that failed; syncStatus stays pending until one lands.
	for id := range e.unsaved {
		if f, ok := e.files[id]; ok {
			e.persistFile(f)
		} else {
			delete(e.unsaved, id)
		}
	}

	// Re-broadcast the last action of every file still awaiting its echo.
	var resend []*action.Action
	for id, a := range e.pending {
		if _, ok := e.files[id]; !ok && a.Kind != action.KindDelete {
			delete(e.pending, id)
			e.removePending(id)
			continue
		}
		resend = append(resend, a)
	}

	// Redelivered echoes must not be dropped as duplicates.
	for _, a := range resend {
		delete(e.seen, a.Meta.ID)
	}

	for aid, at := range e.seen {
		if now.Sub(at) > seenRetention {
			delete(e.seen, aid)
		}
	}

	subs := make([]string, 0, len(e.subs))
	for ch := range e.subs {
		subs = append(subs, ch)
	}
	e.mu.Unlock()

	e.emit(events)

	for _, a := range resend {
		e.logger.Debug("re-broadcasting pending action",
			zap.String("file", string(a.FileID)),
			zap.String("action", string(a.Meta.ID)))
		e.publish(a)
	}

	// Subscription refresh: harmless when already registered, restores
	// state on transports that lost it.
	for _, ch := range subs {
		if err := e.transport.Subscribe(ch); err != nil {
			e.logger.Warn("subscription refresh failed",
				zap.String("channel", ch), zap.Error(err))
		}
	}
}

// PendingFiles lists files still awaiting acknowledgment, for operator
// visibility.
func (e *Engine) PendingFiles() []types.FileID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.FileID, 0, len(e.pending))
	for id := range e.pending {
		out = append(out, id)
	}
	return out
}
