package gstate

import (
	"context"
	"slices"
	"sync"
	"time"
)

// DefaultMaxAge is used for AsyncOptions.MaxAge when none is set.
const DefaultMaxAge = 5 * time.Minute

// AsyncOptions tunes an async binding. Zero durations take their defaults:
// MaxAge is DefaultMaxAge, RefreshAge and GarbageCollectAge follow MaxAge.
type AsyncOptions struct {
	// Deps forces a reload whenever they differ from the set recorded for the
	// path. A nil slice means no dependencies were supplied.
	Deps []any
	// MaxAge hides data older than this from AsyncResult.Data.
	MaxAge time.Duration
	// RefreshAge is the age after which mounting reloads the data.
	RefreshAge time.Duration
	// GarbageCollectAge is the age after which data of an unreferenced
	// envelope is evicted on release.
	GarbageCollectAge time.Duration
	// NoSSR keeps the binding from loading during server rendering.
	NoSSR bool
	// Disabled suppresses all loads.
	Disabled bool
}

func (o AsyncOptions) withDefaults() AsyncOptions {
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.RefreshAge <= 0 {
		o.RefreshAge = o.MaxAge
	}
	if o.GarbageCollectAge <= 0 {
		o.GarbageCollectAge = o.MaxAge
	}
	if o.Deps != nil {
		o.Deps = slices.Clone(o.Deps)
	}
	return o
}

// withinAge reports whether data stamped at timestamp is no older than age.
func withinAge(now, timestamp int64, age time.Duration) bool {
	return age.Milliseconds() >= now-timestamp
}

// AsyncResult is what a consumer renders for an async path.
type AsyncResult struct {
	// Data is nil when it is older than MaxAge.
	Data      any
	Loading   bool
	Timestamp int64
}

// AsyncBinding is one consumer of the envelope at a path. Render reads the
// envelope; Mount and Unmount bracket the consumer's lifetime and drive
// reference counting, reloads and eviction.
type AsyncBinding struct {
	mu          sync.Mutex
	gs          *GlobalState
	path        string
	loader      Loader
	opts        AsyncOptions
	mounted     bool
	depsChanged bool
	last        Result
}

// UseAsyncData binds the envelope at path, loaded by loader.
func UseAsyncData(gs *GlobalState, path string, loader Loader, opts AsyncOptions) *AsyncBinding {
	return &AsyncBinding{
		gs:     gs,
		path:   path,
		loader: loader,
		opts:   opts.withDefaults(),
	}
}

// Path returns the bound path.
func (b *AsyncBinding) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Mounted reports whether Mount was called without a matching Unmount.
func (b *AsyncBinding) Mounted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mounted
}

func (b *AsyncBinding) serverMode() bool {
	return b.gs.SSRContext() != nil
}

// Render materializes the envelope and returns what to display.
//
// During server rendering a path that was never loaded gets a single
// server-tagged load; a deferred result is registered as pending on the
// SSRContext. On the client Render records dependency changes and, while
// mounted, reloads when they changed or the data went stale.
func (b *AsyncBinding) Render() (AsyncResult, error) {
	b.mu.Lock()
	path, opts, loader := b.path, b.opts, b.loader
	b.mu.Unlock()

	env := asEnvelope(b.gs.Get(path, WithInitialValueFunc(idleEnvelope)))

	if b.serverMode() {
		if opts.NoSSR || opts.Disabled || env.Timestamp != 0 || env.OperationID != "" {
			return b.result(), nil
		}
		res, err := b.load(path, loader, WithOperationID(NewServerOperationID()), WithOldData(env.Data, env.Timestamp))
		if err != nil {
			return b.result(), err
		}
		if res.IsDeferred() {
			b.gs.SSRContext().addPending(res.Future())
		}
		return b.result(), nil
	}

	b.checkDeps()
	if b.Mounted() {
		if err := b.sync(); err != nil {
			return b.result(), err
		}
	}
	return b.result(), nil
}

// Result returns what to display without touching the load machinery.
func (b *AsyncBinding) Result() AsyncResult {
	return b.result()
}

func (b *AsyncBinding) result() AsyncResult {
	b.mu.Lock()
	path, maxAge := b.path, b.opts.MaxAge
	b.mu.Unlock()

	env := asEnvelope(b.gs.Get(path))
	out := AsyncResult{
		Loading:   env.Loading(),
		Timestamp: env.Timestamp,
	}
	if withinAge(b.gs.nowMillis(), env.Timestamp, maxAge) {
		out.Data = env.Data
	}
	return out
}

func (b *AsyncBinding) checkDeps() {
	b.mu.Lock()
	path, deps := b.path, b.opts.Deps
	b.mu.Unlock()

	if deps == nil {
		b.gs.DropDependencies(path)
		return
	}
	if b.gs.HasChangedDependencies(path, deps) {
		b.mu.Lock()
		b.depsChanged = true
		b.mu.Unlock()
	}
}

// sync issues a client load when dependencies changed, or when the data are
// stale and no client operation is already loading. An in-flight server
// operation does not block a client reload.
func (b *AsyncBinding) sync() error {
	b.mu.Lock()
	path, opts, loader := b.path, b.opts, b.loader
	force := b.depsChanged
	b.depsChanged = false
	b.mu.Unlock()

	if opts.Disabled {
		return nil
	}
	env := asEnvelope(b.gs.Get(path))
	if !needsLoad(env, b.gs.nowMillis(), opts.RefreshAge, force) {
		return nil
	}
	_, err := b.load(path, loader)
	return err
}

// needsLoad reports whether a mounted consumer should issue a client load.
func needsLoad(env Envelope, now int64, refreshAge time.Duration, force bool) bool {
	if force {
		return true
	}
	clientLoading := env.OperationID != "" && !IsServerOperation(env.OperationID)
	return !clientLoading && !withinAge(now, env.Timestamp, refreshAge)
}

func (b *AsyncBinding) load(path string, loader Loader, opts ...LoadOption) (Result, error) {
	if loader == nil {
		return Result{}, nil
	}
	res, err := Load(b.gs, path, loader, opts...)
	if err != nil {
		return res, err
	}
	b.mu.Lock()
	b.last = res
	b.mu.Unlock()
	return res, nil
}

// Mount registers the consumer: it increments NumRefs and reloads when
// needed. It does nothing during server rendering or when already mounted.
func (b *AsyncBinding) Mount() error {
	if b.serverMode() {
		return nil
	}
	b.mu.Lock()
	if b.mounted {
		b.mu.Unlock()
		return nil
	}
	b.mounted = true
	path := b.path
	b.mu.Unlock()

	b.gs.withhold(path)
	b.checkDeps()
	return b.sync()
}

// Unmount releases the consumer: NumRefs is decremented, never below zero,
// and once it reaches zero data older than GarbageCollectAge are evicted.
func (b *AsyncBinding) Unmount() {
	b.mu.Lock()
	if !b.mounted {
		b.mu.Unlock()
		return
	}
	b.mounted = false
	path, gcAge := b.path, b.opts.GarbageCollectAge
	b.mu.Unlock()

	b.gs.release(path, gcAge)
}

// SetDeps replaces the dependency list and reloads when mounted and the list
// changed.
func (b *AsyncBinding) SetDeps(deps []any) error {
	b.mu.Lock()
	if deps == nil {
		b.opts.Deps = nil
	} else {
		b.opts.Deps = slices.Clone(deps)
	}
	b.mu.Unlock()

	if b.serverMode() {
		return nil
	}
	b.checkDeps()
	if b.Mounted() {
		return b.sync()
	}
	return nil
}

// SetPath rebinds to path. A mounted binding releases the old envelope and
// withholds the new one.
func (b *AsyncBinding) SetPath(path string) error {
	b.mu.Lock()
	if b.path == path {
		b.mu.Unlock()
		return nil
	}
	mounted := b.mounted
	b.mu.Unlock()

	if mounted {
		b.Unmount()
	}
	b.mu.Lock()
	b.path = path
	b.mu.Unlock()
	if mounted {
		return b.Mount()
	}
	return nil
}

// Reload issues a load regardless of staleness. A nil loader reuses the
// binding's loader.
func (b *AsyncBinding) Reload(loader Loader) (Result, error) {
	b.mu.Lock()
	path := b.path
	if loader == nil {
		loader = b.loader
	}
	b.mu.Unlock()

	var opts []LoadOption
	if b.serverMode() {
		opts = append(opts, WithOperationID(NewServerOperationID()))
	}
	return b.load(path, loader, opts...)
}

// SetData stores data directly, superseding any operation in flight.
func (b *AsyncBinding) SetData(data any) {
	b.gs.commit(b.Path(), data)
}

// OnChange calls cb whenever a notification batch changes the bound envelope.
func (b *AsyncBinding) OnChange(cb func(AsyncResult)) (func(), error) {
	if cb == nil {
		return func() {}, nil
	}
	return subscribe(b.gs, b.Path(), func(any) {
		cb(b.result())
	})
}

// Wait blocks until the latest load issued by this binding has settled.
func (b *AsyncBinding) Wait(ctx context.Context) error {
	b.mu.Lock()
	last := b.last
	b.mu.Unlock()
	_, err := last.Wait(ctx)
	return err
}

// withhold increments NumRefs of the envelope at path.
func (gs *GlobalState) withhold(path string) {
	gs.Update(path, func(current any) any {
		env := asEnvelope(current)
		env.NumRefs++
		return env.encode(current)
	})
}

// release decrements NumRefs of the envelope at path and evicts its data once
// unreferenced and older than gcAge.
func (gs *GlobalState) release(path string, gcAge time.Duration) {
	now := gs.nowMillis()
	var evicted any
	var didEvict bool
	gs.Update(path, func(current any) any {
		env := asEnvelope(current)
		if env.NumRefs > 0 {
			env.NumRefs--
		}
		if env.NumRefs == 0 && !withinAge(now, env.Timestamp, gcAge) && (env.Data != nil || env.Timestamp != 0) {
			evicted, didEvict = env.Data, true
			env.Data = nil
			env.Timestamp = 0
		}
		return env.encode(current)
	})
	if didEvict {
		gs.logger.LogEvent(TraceEvent{Kind: TraceEvict, Path: path, OldValue: evicted})
		gs.emitEvict(path, evicted)
	}
}
