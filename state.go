package gstate

import (
	"slices"
	"sync"
	"time"

	"github.com/goliatone/go-global-state/objpath"
	"github.com/goliatone/go-global-state/pkg/activity"
)

// Watcher is a subscription handle for GlobalState.Watch. Handles compare by
// identity, so registering the same handle twice is a no-op.
type Watcher struct {
	fn func()
}

// NewWatcher wraps fn in a subscription handle.
func NewWatcher(fn func()) *Watcher {
	return &Watcher{fn: fn}
}

// GlobalState is a path-addressable state container. Every write replaces the
// nodes along the written path and shares everything else, so consumers can
// detect changes to their slice of the state by identity (see objpath.Same).
//
// Outside SSR mode watchers are notified once per batch of writes through the
// configured Scheduler. With an SSRContext attached, writes only mark that
// context dirty.
type GlobalState struct {
	mu           sync.Mutex
	current      any
	initial      any
	watchers     []*Watcher
	dependencies map[string][]any
	scheduled    bool

	ssr       *SSRContext
	scheduler Scheduler
	clock     func() time.Time
	logger    Logger
	emitter   *activity.Emitter
	hooks     activity.Hooks
	actorID   string
	tenantID  string
	ops       *operationRegistry
}

// New constructs a container holding initial. The initial snapshot read via
// FromInitialState is a deep copy, so later mutation of the caller's value
// does not leak into it. An attached SSRContext is reset.
func New(initial any, opts ...Option) *GlobalState {
	cfg := applyOptions(opts)
	gs := &GlobalState{
		current:      initial,
		initial:      objpath.Clone(initial),
		dependencies: map[string][]any{},
		ssr:          cfg.ssr,
		scheduler:    cfg.scheduler,
		clock:        cfg.clock,
		logger:       cfg.logger,
		emitter:      newActivityEmitter(cfg),
		hooks:        cfg.activityHooks,
		actorID:      cfg.activityActor,
		tenantID:     cfg.activityTenant,
		ops:          newOperationRegistry(),
	}
	if gs.ssr != nil {
		gs.ssr.reset(initial)
	}
	gs.logger.LogEvent(TraceEvent{Kind: TraceInit, NewValue: initial, State: initial})
	return gs
}

// SSRContext returns the attached server-side rendering context, if any.
func (gs *GlobalState) SSRContext() *SSRContext {
	return gs.ssr
}

// Now returns the container clock reading.
func (gs *GlobalState) Now() time.Time {
	return gs.clock()
}

func (gs *GlobalState) nowMillis() int64 {
	return gs.clock().UnixMilli()
}

// Get returns the value at path, or the whole state for an empty path.
func (gs *GlobalState) Get(path string, opts ...GetOption) any {
	cfg := applyGetOptions(opts)

	gs.mu.Lock()
	value, found := gs.lookupLocked(path, cfg.fromInitial)
	gs.mu.Unlock()
	if found || !cfg.hasInitialValue {
		return value
	}

	fallback := cfg.initialValue()

	gs.mu.Lock()
	if value, found := gs.lookupLocked(path, cfg.fromInitial); found {
		gs.mu.Unlock()
		return value
	}
	if cfg.fromInitial {
		if _, exists := objpath.Get(gs.current, path); exists {
			gs.mu.Unlock()
			return fallback
		}
	}
	old, state, changed := gs.setLocked(path, fallback)
	gs.mu.Unlock()

	if changed {
		gs.logger.LogEvent(TraceEvent{Kind: TraceGetDefault, Path: path, OldValue: old, NewValue: fallback, State: state})
		gs.afterWrite(path, old, fallback, state)
	}
	return fallback
}

// Set writes value at path. Writing the value already stored there (by
// identity) does nothing and schedules no notification.
func (gs *GlobalState) Set(path string, value any) {
	gs.mu.Lock()
	old, state, changed := gs.setLocked(path, value)
	gs.mu.Unlock()
	if !changed {
		return
	}
	gs.logger.LogEvent(TraceEvent{Kind: TraceSet, Path: path, OldValue: old, NewValue: value, State: state})
	gs.afterWrite(path, old, value, state)
}

// Update atomically replaces the value at path with fn(old). fn runs while the
// container is locked and must not call back into gs. Returning old unchanged
// is a no-op.
func (gs *GlobalState) Update(path string, fn func(old any) any) any {
	gs.mu.Lock()
	current, _ := objpath.Get(gs.current, path)
	next := fn(current)
	old, state, changed := gs.setLocked(path, next)
	gs.mu.Unlock()
	if changed {
		gs.logger.LogEvent(TraceEvent{Kind: TraceSet, Path: path, OldValue: old, NewValue: next, State: state})
		gs.afterWrite(path, old, next, state)
	}
	return next
}

// Delete removes the entry at path.
func (gs *GlobalState) Delete(path string) {
	gs.mu.Lock()
	old, found := objpath.Get(gs.current, path)
	if !found {
		gs.mu.Unlock()
		return
	}
	gs.current = objpath.Delete(gs.current, path)
	state := gs.current
	gs.mu.Unlock()
	gs.logger.LogEvent(TraceEvent{Kind: TraceSet, Path: path, OldValue: old, State: state})
	gs.afterWrite(path, old, nil, state)
}

func (gs *GlobalState) lookupLocked(path string, fromInitial bool) (any, bool) {
	if fromInitial {
		return objpath.Get(gs.initial, path)
	}
	return objpath.Get(gs.current, path)
}

func (gs *GlobalState) setLocked(path string, value any) (old any, state any, changed bool) {
	old, found := objpath.Get(gs.current, path)
	if found && objpath.Same(old, value) {
		return old, gs.current, false
	}
	next := objpath.Set(gs.current, path, value)
	if objpath.Same(next, gs.current) {
		return old, gs.current, false
	}
	gs.current = next
	return old, gs.current, true
}

func (gs *GlobalState) afterWrite(path string, old, value, state any) {
	gs.notify(state)
	gs.emitUpdate(path, old, value)
}

// notify marks the SSR context dirty, or schedules a single dispatch for the
// current batch of writes.
func (gs *GlobalState) notify(state any) {
	if gs.ssr != nil {
		gs.ssr.markDirty(state)
		return
	}
	gs.mu.Lock()
	if gs.scheduled {
		gs.mu.Unlock()
		return
	}
	gs.scheduled = true
	gs.mu.Unlock()
	gs.scheduler.Schedule(gs.dispatch)
}

func (gs *GlobalState) dispatch() {
	gs.mu.Lock()
	gs.scheduled = false
	watchers := slices.Clone(gs.watchers)
	gs.mu.Unlock()
	for _, w := range watchers {
		if w != nil && w.fn != nil {
			w.fn()
		}
	}
}

// Watch subscribes w to change notifications. Adding a handle twice is a
// no-op. Returns ErrSSRWatch in SSR mode.
func (gs *GlobalState) Watch(w *Watcher) error {
	if gs.ssr != nil {
		return ErrSSRWatch
	}
	if w == nil {
		return nil
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if !slices.Contains(gs.watchers, w) {
		gs.watchers = append(gs.watchers, w)
	}
	return nil
}

// UnWatch removes w. Removing an unknown handle is a no-op. Returns
// ErrSSRWatch in SSR mode.
func (gs *GlobalState) UnWatch(w *Watcher) error {
	if gs.ssr != nil {
		return ErrSSRWatch
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if i := slices.Index(gs.watchers, w); i >= 0 {
		gs.watchers = slices.Delete(gs.watchers, i, i+1)
	}
	return nil
}

// HasChangedDependencies compares deps with the record kept for path by
// length and element identity, stores a copy of deps as the new record and
// reports whether they differ. The first call for a path reports true.
func (gs *GlobalState) HasChangedDependencies(path string, deps []any) bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	prev, ok := gs.dependencies[path]
	gs.dependencies[path] = slices.Clone(deps)
	return !ok || !objpath.SameSlice(prev, deps)
}

// DropDependencies forgets the dependency record for path.
func (gs *GlobalState) DropDependencies(path string) {
	gs.mu.Lock()
	delete(gs.dependencies, path)
	gs.mu.Unlock()
}
