// Package engine implements the distributed file synchronization engine:
// the replicated action log, vector-clock bookkeeping, conflict detection
// and resolution, file/lock/presence state machines, and the channel model
// that scopes which peers see which actions.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"coalesce/pkg/action"
	"coalesce/pkg/blob"
	"coalesce/pkg/store"
	"coalesce/pkg/transport"
	"coalesce/pkg/types"
	"coalesce/pkg/vclock"
)

const (
	// DefaultSyncInterval is the scheduler cadence.
	DefaultSyncInterval = 30 * time.Second

	// seenRetention bounds how long applied action ids are remembered for
	// at-least-once deduplication.
	seenRetention = time.Hour
)

// Options configures an Engine. NodeID, UserID, Transport and Store are
// required.
type Options struct {
	NodeID    types.NodeID
	UserID    types.UserID
	Transport transport.Transport
	Store     store.KV
	Blobs     blob.Store
	Logger    *zap.Logger

	// SyncInterval overrides the scheduler cadence; zero means default.
	SyncInterval time.Duration
}

// Engine owns the synchronized state of one node. All state mutation is
// serialized through a single mutex; peers race freely and the causal
// metadata detects, rather than prevents, conflicting edits.
type Engine struct {
	mu sync.Mutex

	nodeID  types.NodeID
	userID  types.UserID
	tracker *vclock.Tracker

	files     map[types.FileID]*types.SyncedFile
	conflicts map[types.ConflictID]*types.FileConflict

	// conflictByFile indexes the open conflict per file; multi-way
	// divergence widens that conflict instead of opening another.
	conflictByFile map[types.FileID]types.ConflictID

	// pending maps a file to its last locally authored, not yet
	// acknowledged action. The scheduler re-broadcasts these.
	pending map[types.FileID]*action.Action

	// unsaved marks files whose last store write failed; retried on tick.
	unsaved map[types.FileID]struct{}

	// seen dedupes at-least-once redelivery by action id.
	seen map[types.ActionID]time.Time

	subs        map[string]struct{}
	watchers    map[int]func(ChangeEvent)
	nextWatcher int

	transport transport.Transport
	kv        store.KV
	blobs     blob.Store
	logger    *zap.Logger

	syncInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	// now is swappable for lock/presence expiry tests.
	now func() time.Time
}

// New creates an engine, loads persisted state, auto-subscribes the node's
// own channels, and wires the transport handler. Call Start to run the
// scheduler.
func New(opts Options) (*Engine, error) {
	if opts.NodeID == "" || opts.UserID == "" {
		return nil, fmt.Errorf("engine requires node id and user id")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("engine requires a transport")
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Blobs == nil {
		opts.Blobs = blob.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}

	e := &Engine{
		nodeID:         opts.NodeID,
		userID:         opts.UserID,
		files:          make(map[types.FileID]*types.SyncedFile),
		conflicts:      make(map[types.ConflictID]*types.FileConflict),
		conflictByFile: make(map[types.FileID]types.ConflictID),
		pending:        make(map[types.FileID]*action.Action),
		unsaved:        make(map[types.FileID]struct{}),
		seen:           make(map[types.ActionID]time.Time),
		subs:           make(map[string]struct{}),
		watchers:       make(map[int]func(ChangeEvent)),
		transport:      opts.Transport,
		kv:             opts.Store,
		blobs:          opts.Blobs,
		logger:         opts.Logger,
		syncInterval:   opts.SyncInterval,
		stopCh:         make(chan struct{}),
		now:            time.Now,
	}

	seed, err := e.loadState()
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted state: %w", err)
	}
	e.tracker = vclock.NewTracker(string(opts.NodeID), seed)

	// Every node follows its own files and the public pool.
	for _, ch := range []string{UserFilesChannel(e.userID), PublicFilesChannel} {
		e.subs[ch] = struct{}{}
		if err := e.transport.Subscribe(ch); err != nil {
			return nil, fmt.Errorf("failed to subscribe %s: %w", ch, err)
		}
	}
	// Keep following files already in the store.
	for id := range e.files {
		ch := FileChannel(id)
		e.subs[ch] = struct{}{}
		if err := e.transport.Subscribe(ch); err != nil {
			return nil, fmt.Errorf("failed to subscribe %s: %w", ch, err)
		}
	}

	e.transport.SetHandler(e.HandleAction)

	e.logger.Info("engine initialized",
		zap.String("node", string(e.nodeID)),
		zap.String("user", string(e.userID)),
		zap.Int("files", len(e.files)),
		zap.Int("conflicts", len(e.conflicts)))

	return e, nil
}

// NodeID returns this engine's node id.
func (e *Engine) NodeID() types.NodeID { return e.nodeID }

// UserID returns the user this engine acts as.
func (e *Engine) UserID() types.UserID { return e.userID }

// Start runs the periodic scheduler until Stop is called.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.schedulerLoop()
}

// Stop halts the scheduler and closes the transport.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	if err := e.transport.Close(); err != nil {
		e.logger.Warn("transport close failed", zap.Error(err))
	}
}

// File returns a snapshot of one file.
func (e *Engine) File(id types.FileID) (*types.SyncedFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, ErrFileNotFound)
	}
	return f.Clone(), nil
}

// Files returns snapshots of every known file.
func (e *Engine) Files() []*types.SyncedFile {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.SyncedFile, 0, len(e.files))
	for _, f := range e.files {
		out = append(out, f.Clone())
	}
	return out
}

// Conflict returns a snapshot of one conflict.
func (e *Engine) Conflict(id types.ConflictID) (*types.FileConflict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conflicts[id]
	if !ok {
		return nil, fmt.Errorf("conflict %s: %w", id, ErrUnknownConflict)
	}
	clone := *c
	clone.Versions = append([]types.ConflictVersion(nil), c.Versions...)
	return &clone, nil
}

// Conflicts returns snapshots of all conflicts, pending and resolved.
func (e *Engine) Conflicts() []*types.FileConflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.FileConflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		clone := *c
		clone.Versions = append([]types.ConflictVersion(nil), c.Versions...)
		out = append(out, &clone)
	}
	return out
}

// HandleAction is the single inbound dispatch path. The transport calls it
// for every delivered action; tests may call it directly.
func (e *Engine) HandleAction(a *action.Action) {
	e.mu.Lock()

	if !e.subscribedAny(a.Meta.Channels) {
		e.mu.Unlock()
		e.logger.Debug("dropping action outside subscriptions",
			zap.String("action", string(a.Meta.ID)),
			zap.Strings("channels", a.Meta.Channels))
		return
	}

	if _, dup := e.seen[a.Meta.ID]; dup {
		e.mu.Unlock()
		e.logger.Debug("dropping duplicate delivery",
			zap.String("action", string(a.Meta.ID)))
		return
	}
	e.seen[a.Meta.ID] = e.now()

	events := e.dispatch(a)
	e.mu.Unlock()

	e.emit(events)
}

// dispatch applies one admitted action. Called with e.mu held; returns the
// observer events to emit after unlock.
func (e *Engine) dispatch(a *action.Action) []ChangeEvent {
	// Acknowledge our own echo: the action is now observed as applied.
	if p, ok := e.pending[a.FileID]; ok && p.Meta.ID == a.Meta.ID {
		delete(e.pending, a.FileID)
		e.removePending(a.FileID)
	}

	if a.Meta.Clock != nil {
		e.tracker.Observe(a.Meta.Clock)
	}

	switch a.Kind {
	case action.KindCreate:
		return e.applyCreate(a)
	case action.KindUpdate:
		return e.applyUpdate(a)
	case action.KindDelete:
		return e.applyDelete(a)
	case action.KindMove:
		return e.applyMove(a)
	case action.KindPermission:
		return e.applyPermission(a)
	case action.KindConflict:
		return e.applyResolution(a)
	case action.KindLock:
		return e.applyLock(a)
	case action.KindUnlock:
		return e.applyUnlock(a)
	case action.KindPresence:
		return e.applyPresence(a)
	default:
		e.logger.Warn("unknown action kind",
			zap.String("kind", string(a.Kind)),
			zap.String("action", string(a.Meta.ID)))
		return nil
	}
}

// publish hands an action to the transport. Must be called without e.mu
// held: in-process transports may deliver the echo synchronously. A publish
// failure leaves the file pending for the scheduler to retry.
func (e *Engine) publish(a *action.Action) {
	if err := e.transport.Publish(context.Background(), a); err != nil {
		e.logger.Warn("publish failed, will retry on sync tick",
			zap.String("action", string(a.Meta.ID)),
			zap.String("file", string(a.FileID)),
			zap.Error(err))
	}
}
