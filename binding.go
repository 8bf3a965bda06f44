package gstate

import (
	"sync"

	"github.com/goliatone/go-global-state/objpath"
)

// StateBinding is a consumer's handle on one path of a container.
type StateBinding struct {
	gs   *GlobalState
	path string
	opts []GetOption
}

// UseGlobalState binds path of gs. Options are applied to every Value read,
// so WithInitialValue materializes a default on first access.
func UseGlobalState(gs *GlobalState, path string, opts ...GetOption) *StateBinding {
	return &StateBinding{gs: gs, path: path, opts: opts}
}

// Path returns the bound path.
func (b *StateBinding) Path() string {
	return b.path
}

// Value returns the current value at the bound path.
func (b *StateBinding) Value() any {
	return b.gs.Get(b.path, b.opts...)
}

// Set writes value at the bound path.
func (b *StateBinding) Set(value any) {
	b.gs.Set(b.path, value)
}

// Update atomically replaces the value at the bound path with fn(old).
func (b *StateBinding) Update(fn func(old any) any) any {
	return b.gs.Update(b.path, fn)
}

// OnChange calls cb with the new value whenever a notification batch leaves
// the bound path holding a different value by identity. It fails with
// ErrSSRWatch in SSR mode.
func (b *StateBinding) OnChange(cb func(value any)) (func(), error) {
	return subscribe(b.gs, b.path, cb)
}

// subscribe registers a watcher that filters notifications down to changes
// at path.
func subscribe(gs *GlobalState, path string, cb func(value any)) (func(), error) {
	if cb == nil {
		return func() {}, nil
	}
	var mu sync.Mutex
	last := gs.Get(path)
	watcher := NewWatcher(func() {
		next := gs.Get(path)
		mu.Lock()
		if objpath.Same(last, next) {
			mu.Unlock()
			return
		}
		last = next
		mu.Unlock()
		cb(next)
	})
	if err := gs.Watch(watcher); err != nil {
		return func() {}, err
	}
	return func() { _ = gs.UnWatch(watcher) }, nil
}
