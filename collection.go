package gstate

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-global-state/objpath"
)

// CollectionLoader loads the item id of a collection.
type CollectionLoader func(id string, old any, meta *LoadMeta) (Result, error)

// CollectionResult is what a consumer renders for a set of collection items.
type CollectionResult struct {
	Items map[string]AsyncResult
	// Loading is true while any item is loading.
	Loading bool
	// Timestamp is the oldest item timestamp, 0 when some item was never
	// loaded.
	Timestamp int64
}

// CollectionBinding is one consumer of a set of items in a map of id to
// envelope stored at a path. Reference counts of all its ids are adjusted in
// a single write.
type CollectionBinding struct {
	mu          sync.Mutex
	gs          *GlobalState
	path        string
	ids         []string
	loader      CollectionLoader
	opts        AsyncOptions
	mounted     bool
	depsChanged map[string]bool
	last        map[string]Result
}

// UseAsyncCollection binds the items ids of the collection at path.
func UseAsyncCollection(gs *GlobalState, ids []string, path string, loader CollectionLoader, opts AsyncOptions) *CollectionBinding {
	return &CollectionBinding{
		gs:          gs,
		path:        path,
		ids:         NormalizeIDs(ids...),
		loader:      loader,
		opts:        opts.withDefaults(),
		depsChanged: map[string]bool{},
		last:        map[string]Result{},
	}
}

// NormalizeIDs returns ids sorted and without duplicates or empty entries.
func NormalizeIDs(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ItemPath returns the state path of item id in the collection at path. Ids
// that contain path syntax or look like an index are quoted, so every id
// addresses exactly one map entry.
func ItemPath(path, id string) string {
	return objpath.Join(path, id)
}

// IDs returns the bound ids in sorted order.
func (b *CollectionBinding) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.ids)
}

func (b *CollectionBinding) snapshot() (string, []string, AsyncOptions) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path, slices.Clone(b.ids), b.opts
}

func (b *CollectionBinding) itemLoader(id string, loader CollectionLoader) Loader {
	if loader == nil {
		return nil
	}
	return func(old any, meta *LoadMeta) (Result, error) {
		return loader(id, old, meta)
	}
}

// Render materializes the item envelopes and returns what to display. Loads
// follow the same rules as AsyncBinding.Render, per item.
func (b *CollectionBinding) Render() (CollectionResult, error) {
	path, ids, opts := b.snapshot()
	b.mu.Lock()
	loader := b.loader
	b.mu.Unlock()

	b.gs.Get(path, WithInitialValueFunc(func() any { return map[string]any{} }))
	for _, id := range ids {
		b.gs.Get(ItemPath(path, id), WithInitialValueFunc(idleEnvelope))
	}

	if ssr := b.gs.SSRContext(); ssr != nil {
		if opts.NoSSR || opts.Disabled {
			return b.result(), nil
		}
		for _, id := range ids {
			itemPath := ItemPath(path, id)
			env := asEnvelope(b.gs.Get(itemPath))
			if env.Timestamp != 0 || env.OperationID != "" {
				continue
			}
			res, err := b.load(id, itemPath, b.itemLoader(id, loader), WithOperationID(NewServerOperationID()), WithOldData(env.Data, env.Timestamp))
			if err != nil {
				return b.result(), err
			}
			if res.IsDeferred() {
				ssr.addPending(res.Future())
			}
		}
		return b.result(), nil
	}

	b.checkDeps(path, ids, opts.Deps)
	b.mu.Lock()
	mounted := b.mounted
	b.mu.Unlock()
	if mounted {
		if err := b.sync(); err != nil {
			return b.result(), err
		}
	}
	return b.result(), nil
}

// Result returns what to display without touching the load machinery.
func (b *CollectionBinding) Result() CollectionResult {
	return b.result()
}

// Item returns what to display for one id.
func (b *CollectionBinding) Item(id string) AsyncResult {
	path, _, opts := b.snapshot()
	return b.itemResult(ItemPath(path, id), opts.MaxAge)
}

func (b *CollectionBinding) itemResult(itemPath string, maxAge time.Duration) AsyncResult {
	env := asEnvelope(b.gs.Get(itemPath))
	out := AsyncResult{Loading: env.Loading(), Timestamp: env.Timestamp}
	if withinAge(b.gs.nowMillis(), env.Timestamp, maxAge) {
		out.Data = env.Data
	}
	return out
}

func (b *CollectionBinding) result() CollectionResult {
	path, ids, opts := b.snapshot()
	out := CollectionResult{Items: make(map[string]AsyncResult, len(ids))}
	for i, id := range ids {
		item := b.itemResult(ItemPath(path, id), opts.MaxAge)
		out.Items[id] = item
		out.Loading = out.Loading || item.Loading
		if i == 0 || item.Timestamp < out.Timestamp {
			out.Timestamp = item.Timestamp
		}
	}
	return out
}

func (b *CollectionBinding) checkDeps(path string, ids []string, deps []any) {
	for _, id := range ids {
		itemPath := ItemPath(path, id)
		if deps == nil {
			b.gs.DropDependencies(itemPath)
			continue
		}
		if b.gs.HasChangedDependencies(itemPath, deps) {
			b.mu.Lock()
			b.depsChanged[id] = true
			b.mu.Unlock()
		}
	}
}

func (b *CollectionBinding) sync() error {
	path, ids, opts := b.snapshot()
	b.mu.Lock()
	loader := b.loader
	forced := b.depsChanged
	b.depsChanged = map[string]bool{}
	b.mu.Unlock()

	if opts.Disabled {
		return nil
	}
	now := b.gs.nowMillis()
	for _, id := range ids {
		itemPath := ItemPath(path, id)
		env := asEnvelope(b.gs.Get(itemPath))
		if !needsLoad(env, now, opts.RefreshAge, forced[id]) {
			continue
		}
		if _, err := b.load(id, itemPath, b.itemLoader(id, loader)); err != nil {
			return err
		}
	}
	return nil
}

func (b *CollectionBinding) load(id, itemPath string, loader Loader, opts ...LoadOption) (Result, error) {
	if loader == nil {
		return Result{}, nil
	}
	res, err := Load(b.gs, itemPath, loader, opts...)
	if err != nil {
		return res, err
	}
	b.mu.Lock()
	b.last[id] = res
	b.mu.Unlock()
	return res, nil
}

// Mount withholds every bound id in one write and loads what is needed. It
// does nothing during server rendering or when already mounted.
func (b *CollectionBinding) Mount() error {
	if b.gs.SSRContext() != nil {
		return nil
	}
	b.mu.Lock()
	if b.mounted {
		b.mu.Unlock()
		return nil
	}
	b.mounted = true
	b.mu.Unlock()

	path, ids, opts := b.snapshot()
	b.gs.withholdItems(path, ids)
	b.checkDeps(path, ids, opts.Deps)
	return b.sync()
}

// Unmount releases every bound id in one write.
func (b *CollectionBinding) Unmount() {
	b.mu.Lock()
	if !b.mounted {
		b.mu.Unlock()
		return
	}
	b.mounted = false
	b.mu.Unlock()

	path, ids, opts := b.snapshot()
	b.gs.releaseItems(path, ids, opts.GarbageCollectAge)
}

// SetIDs rebinds to ids. A mounted binding withholds the new set before
// releasing the old one, so ids present in both keep their data.
func (b *CollectionBinding) SetIDs(ids []string) error {
	next := NormalizeIDs(ids...)
	b.mu.Lock()
	if slices.Equal(b.ids, next) {
		b.mu.Unlock()
		return nil
	}
	prev := b.ids
	b.ids = next
	mounted := b.mounted
	path, opts := b.path, b.opts
	b.mu.Unlock()

	if !mounted || b.gs.SSRContext() != nil {
		return nil
	}
	b.gs.withholdItems(path, next)
	b.gs.releaseItems(path, prev, opts.GarbageCollectAge)
	b.checkDeps(path, next, opts.Deps)
	return b.sync()
}

// SetDeps replaces the dependency list and reloads changed items when
// mounted.
func (b *CollectionBinding) SetDeps(deps []any) error {
	b.mu.Lock()
	if deps == nil {
		b.opts.Deps = nil
	} else {
		b.opts.Deps = slices.Clone(deps)
	}
	mounted := b.mounted
	b.mu.Unlock()

	if b.gs.SSRContext() != nil {
		return nil
	}
	path, ids, opts := b.snapshot()
	b.checkDeps(path, ids, opts.Deps)
	if mounted {
		return b.sync()
	}
	return nil
}

// Reload loads every bound id regardless of staleness. A nil loader reuses
// the binding's loader.
func (b *CollectionBinding) Reload(loader CollectionLoader) (map[string]Result, error) {
	path, ids, _ := b.snapshot()
	if loader == nil {
		b.mu.Lock()
		loader = b.loader
		b.mu.Unlock()
	}
	var opts []LoadOption
	out := make(map[string]Result, len(ids))
	for _, id := range ids {
		if b.gs.SSRContext() != nil {
			opts = []LoadOption{WithOperationID(NewServerOperationID())}
		}
		res, err := b.load(id, ItemPath(path, id), b.itemLoader(id, loader), opts...)
		if err != nil {
			return out, err
		}
		out[id] = res
	}
	return out, nil
}

// SetItem stores data for id directly, superseding any operation in flight.
func (b *CollectionBinding) SetItem(id string, data any) {
	path, _, _ := b.snapshot()
	b.gs.commit(ItemPath(path, id), data)
}

// OnChange calls cb whenever a notification batch changes the collection.
func (b *CollectionBinding) OnChange(cb func(CollectionResult)) (func(), error) {
	if cb == nil {
		return func() {}, nil
	}
	path, _, _ := b.snapshot()
	return subscribe(b.gs, path, func(any) {
		cb(b.result())
	})
}

// Wait blocks until the latest load of every item has settled and returns the
// first failure.
func (b *CollectionBinding) Wait(ctx context.Context) error {
	b.mu.Lock()
	pending := maps.Clone(b.last)
	b.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	group, ctx := errgroup.WithContext(ctx)
	for _, res := range pending {
		group.Go(func() error {
			_, err := res.Wait(ctx)
			return err
		})
	}
	return group.Wait()
}

// withholdItems increments NumRefs of every id in the collection at path.
func (gs *GlobalState) withholdItems(path string, ids []string) {
	if len(ids) == 0 {
		return
	}
	gs.Update(path, func(current any) any {
		items, _ := current.(map[string]any)
		out := make(map[string]any, len(items)+len(ids))
		maps.Copy(out, items)
		for _, id := range ids {
			env := asEnvelope(out[id])
			env.NumRefs++
			out[id] = env.encode(out[id])
		}
		return out
	})
}

// releaseItems decrements NumRefs of every id in the collection at path and
// removes the ids left unreferenced and older than gcAge. Other entries are
// kept as they are.
func (gs *GlobalState) releaseItems(path string, ids []string, gcAge time.Duration) {
	if len(ids) == 0 {
		return
	}
	now := gs.nowMillis()
	evicted := map[string]any{}
	gs.Update(path, func(current any) any {
		items, ok := current.(map[string]any)
		if !ok {
			return current
		}
		out := maps.Clone(items)
		for _, id := range ids {
			raw, exists := out[id]
			if !exists {
				continue
			}
			env := asEnvelope(raw)
			if env.NumRefs > 0 {
				env.NumRefs--
			}
			if env.NumRefs == 0 && !withinAge(now, env.Timestamp, gcAge) {
				evicted[id] = env.Data
				delete(out, id)
				continue
			}
			out[id] = env.encode(raw)
		}
		return out
	})
	for _, id := range slices.Sorted(maps.Keys(evicted)) {
		itemPath := ItemPath(path, id)
		gs.logger.LogEvent(TraceEvent{Kind: TraceEvict, Path: itemPath, OldValue: evicted[id]})
		gs.emitEvict(itemPath, evicted[id])
	}
}
