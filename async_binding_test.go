package gstate

import (
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-global-state/pkg/activity"
)

// controlledLoader hands out a fresh pending future per call.
type controlledLoader struct {
	mu      sync.Mutex
	calls   int
	metas   []*LoadMeta
	futures []*Future
}

func (l *controlledLoader) load(_ any, meta *LoadMeta) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	f := NewFuture()
	l.metas = append(l.metas, meta)
	l.futures = append(l.futures, f)
	return Deferred(f), nil
}

func (l *controlledLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestAsyncBindingMountLoadsAndResolves(t *testing.T) {
	h := newHarness(map[string]any{})
	loader := &controlledLoader{}
	b := UseAsyncData(h.gs, "user", loader.load, AsyncOptions{})

	res, err := b.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.Data != nil || res.Loading || loader.count() != 0 {
		t.Fatalf("expected idle unmounted render, got %+v calls=%d", res, loader.count())
	}
	if env := h.envelope("user"); env != (Envelope{}) {
		t.Fatalf("expected empty envelope materialized, got %+v", env)
	}

	if err := b.Mount(); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected mount to trigger a load, got %d", loader.count())
	}
	meta := loader.metas[0]
	if meta.IsAborted() || !b.Result().Loading {
		t.Fatalf("expected pending load")
	}
	if env := h.envelope("user"); env.NumRefs != 1 {
		t.Fatalf("expected one reference, got %+v", env)
	}

	h.clock.Advance(time.Second)
	loader.futures[0].Resolve("ada")
	if err := b.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}

	env := h.envelope("user")
	if env.Data != "ada" || env.OperationID != "" || env.Timestamp != h.clock.Now().UnixMilli() {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if !meta.IsAborted() {
		t.Fatalf("expected completed operation to report aborted")
	}
	if got := b.Result(); got.Data != "ada" || got.Loading {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestAsyncBindingDependencyChangeSupersedes(t *testing.T) {
	h := newHarness(map[string]any{})
	loader := &controlledLoader{}
	discarded := make(chan struct{}, 1)
	h.gs.logger = LoggerFunc(func(event TraceEvent) {
		if event.Kind == TraceLoadDiscard {
			discarded <- struct{}{}
		}
	})
	b := UseAsyncData(h.gs, "x", loader.load, AsyncOptions{Deps: []any{1}})

	if err := b.Mount(); err != nil {
		t.Fatalf("mount: %v", err)
	}
	var aborted []string
	if err := loader.metas[0].SetAbortCallback(func(id string) { aborted = append(aborted, id) }); err != nil {
		t.Fatalf("set abort: %v", err)
	}

	if err := b.SetDeps([]any{2}); err != nil {
		t.Fatalf("set deps: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected dependency change to reload, got %d loads", loader.count())
	}
	if len(aborted) != 1 || aborted[0] != loader.metas[0].OperationID {
		t.Fatalf("expected first operation aborted once, got %v", aborted)
	}

	loader.futures[1].Resolve("second")
	if err := b.Wait(waitCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	loader.futures[0].Resolve("first")
	select {
	case <-discarded:
	case <-waitCtx(t).Done():
		t.Fatalf("expected first result to be discarded")
	}

	if env := h.envelope("x"); env.Data != "second" || env.Loading() {
		t.Fatalf("expected second load to win, got %+v", env)
	}
	if len(aborted) != 1 {
		t.Fatalf("expected abort callback exactly once, got %d", len(aborted))
	}

	if err := b.SetDeps([]any{2}); err != nil {
		t.Fatalf("set deps: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected unchanged deps not to reload, got %d loads", loader.count())
	}
}

func TestAsyncBindingRefcountFloorAndEviction(t *testing.T) {
	h := newHarness(map[string]any{})
	capture := &activity.CaptureHook{}
	h.gs.emitter = activity.NewEmitter(activity.Hooks{capture}, activity.Config{Enabled: true})
	load := func(any, *LoadMeta) (Result, error) { return Immediate("data"), nil }
	opts := AsyncOptions{MaxAge: time.Minute, GarbageCollectAge: 10 * time.Second}

	a := UseAsyncData(h.gs, "item", load, opts)
	b := UseAsyncData(h.gs, "item", load, opts)
	_ = a.Mount()
	_ = a.Mount()
	_ = b.Mount()
	if env := h.envelope("item"); env.NumRefs != 2 || env.Data != "data" {
		t.Fatalf("expected two refs and loaded data, got %+v", env)
	}

	a.Unmount()
	a.Unmount()
	h.clock.Advance(5 * time.Second)
	b.Unmount()
	if env := h.envelope("item"); env.NumRefs != 0 || env.Data != "data" {
		t.Fatalf("expected young data kept at zero refs, got %+v", env)
	}

	_ = b.Mount()
	h.clock.Advance(11 * time.Second)
	b.Unmount()
	b.Unmount()
	env := h.envelope("item")
	if env.NumRefs != 0 || env.Data != nil || env.Timestamp != 0 {
		t.Fatalf("expected eviction with refs floored at zero, got %+v", env)
	}
	if verbs := capture.Verbs(); verbs[len(verbs)-1] != activity.VerbStateEvicted {
		t.Fatalf("expected eviction event last, got %v", verbs)
	}
}

func TestAsyncBindingStalenessRules(t *testing.T) {
	h := newHarness(map[string]any{
		"fresh":  NewEnvelope("cached", WithTimestamp(newFakeClock().Now().UnixMilli())),
		"server": map[string]any{"data": nil, "numRefs": 0, "operationId": "Sabc", "timestamp": 0},
	})
	loader := &controlledLoader{}

	fresh := UseAsyncData(h.gs, "fresh", loader.load, AsyncOptions{RefreshAge: time.Minute})
	_ = fresh.Mount()
	if loader.count() != 0 {
		t.Fatalf("expected fresh data not to reload")
	}

	server := UseAsyncData(h.gs, "server", loader.load, AsyncOptions{})
	_ = server.Mount()
	if loader.count() != 1 {
		t.Fatalf("expected server operation not to block a client load, got %d", loader.count())
	}

	again := UseAsyncData(h.gs, "server", loader.load, AsyncOptions{})
	_ = again.Mount()
	if loader.count() != 1 {
		t.Fatalf("expected client operation in flight to block another load, got %d", loader.count())
	}

	h.clock.Advance(2 * time.Minute)
	if _, err := fresh.Render(); err != nil {
		t.Fatalf("render: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected stale mounted data to reload on render, got %d", loader.count())
	}
}

func TestAsyncResultHidesDataPastMaxAge(t *testing.T) {
	h := newHarness(map[string]any{})
	b := UseAsyncData(h.gs, "v", nil, AsyncOptions{MaxAge: time.Minute})
	b.SetData("hello")

	if got := b.Result(); got.Data != "hello" {
		t.Fatalf("expected data, got %+v", got)
	}
	h.clock.Advance(2 * time.Minute)
	got := b.Result()
	if got.Data != nil || got.Timestamp == 0 {
		t.Fatalf("expected stale data hidden but timestamp kept, got %+v", got)
	}
}

func TestAsyncBindingDisabledAndSetPath(t *testing.T) {
	h := newHarness(map[string]any{})
	loader := &controlledLoader{}

	disabled := UseAsyncData(h.gs, "off", loader.load, AsyncOptions{Disabled: true})
	_ = disabled.Mount()
	if loader.count() != 0 {
		t.Fatalf("expected disabled binding not to load")
	}

	b := UseAsyncData(h.gs, "a", func(any, *LoadMeta) (Result, error) { return Immediate(1), nil }, AsyncOptions{})
	_ = b.Mount()
	if err := b.SetPath("b"); err != nil {
		t.Fatalf("set path: %v", err)
	}
	if env := h.envelope("a"); env.NumRefs != 0 {
		t.Fatalf("expected old path released, got %+v", env)
	}
	if env := h.envelope("b"); env.NumRefs != 1 || env.Data != 1 {
		t.Fatalf("expected new path withheld and loaded, got %+v", env)
	}
}

func TestAsyncBindingSetDataSupersedes(t *testing.T) {
	h := newHarness(map[string]any{})
	loader := &controlledLoader{}
	b := UseAsyncData(h.gs, "v", loader.load, AsyncOptions{})
	_ = b.Mount()

	var aborted int
	_ = loader.metas[0].SetAbortCallback(func(string) { aborted++ })
	b.SetData("manual")

	if aborted != 1 {
		t.Fatalf("expected in-flight load aborted, got %d", aborted)
	}
	if env := h.envelope("v"); env.Data != "manual" || env.Loading() {
		t.Fatalf("expected manual data stored, got %+v", env)
	}
	loader.futures[0].Resolve("late")
	_ = b.Wait(waitCtx(t))
	if env := h.envelope("v"); env.Data != "manual" {
		t.Fatalf("expected late result discarded, got %+v", env)
	}
}

func TestAsyncBindingReloadAndOnChange(t *testing.T) {
	h := newHarness(map[string]any{})
	n := 0
	b := UseAsyncData(h.gs, "counter", func(any, *LoadMeta) (Result, error) {
		n++
		return Immediate(n), nil
	}, AsyncOptions{})

	var seen []AsyncResult
	unsubscribe, err := b.OnChange(func(r AsyncResult) { seen = append(seen, r) })
	if err != nil {
		t.Fatalf("on change: %v", err)
	}
	if _, err := b.Reload(nil); err != nil {
		t.Fatalf("reload: %v", err)
	}
	h.gs.Set("unrelated", true)
	h.scheduler.Flush()
	if len(seen) != 1 || seen[0].Data != 1 {
		t.Fatalf("expected one change notification, got %+v", seen)
	}

	h.gs.Set("unrelated", false)
	h.scheduler.Flush()
	if len(seen) != 1 {
		t.Fatalf("expected unrelated writes filtered, got %d", len(seen))
	}

	res, _ := b.Reload(func(any, *LoadMeta) (Result, error) { return Immediate("custom"), nil })
	if res.Value() != "custom" {
		t.Fatalf("expected custom loader result, got %v", res.Value())
	}
	unsubscribe()
	h.scheduler.Flush()
	if len(seen) != 1 {
		t.Fatalf("expected no notifications after unsubscribe, got %d", len(seen))
	}
}

func TestAsyncBindingSSRLoadsOncePerPath(t *testing.T) {
	ssr := NewSSRContext()
	h := newHarness(map[string]any{}, WithSSRContext(ssr))
	loader := &controlledLoader{}

	first := UseAsyncData(h.gs, "page", loader.load, AsyncOptions{})
	second := UseAsyncData(h.gs, "page", loader.load, AsyncOptions{})
	skipped := UseAsyncData(h.gs, "client-only", loader.load, AsyncOptions{NoSSR: true})
	for _, b := range []*AsyncBinding{first, second, skipped} {
		if _, err := b.Render(); err != nil {
			t.Fatalf("render: %v", err)
		}
		if err := b.Mount(); err != nil {
			t.Fatalf("mount in ssr mode: %v", err)
		}
	}

	if loader.count() != 1 {
		t.Fatalf("expected a single server load, got %d", loader.count())
	}
	if !IsServerOperation(loader.metas[0].OperationID) {
		t.Fatalf("expected server operation id, got %s", loader.metas[0].OperationID)
	}
	if env := h.envelope("page"); env.NumRefs != 0 {
		t.Fatalf("expected no reference counting in ssr mode, got %+v", env)
	}
	if len(ssr.Pending()) != 1 || !ssr.Dirty() {
		t.Fatalf("expected pending future and dirty context")
	}

	loader.futures[0].Resolve("rendered")
	if err := ssr.Settle(waitCtx(t)); err != nil {
		t.Fatalf("settle: %v", err)
	}
	state, _ := ssr.State().(map[string]any)
	if env := asEnvelope(state["page"]); env.Data != "rendered" || env.Loading() {
		t.Fatalf("expected settled data in snapshot, got %+v", env)
	}
}

func TestAsyncBindingEnvelopeFieldsByPath(t *testing.T) {
	h := newHarness(map[string]any{})
	b := UseAsyncData(h.gs, "user", func(any, *LoadMeta) (Result, error) {
		return Immediate("ada"), nil
	}, AsyncOptions{})
	if err := b.Mount(); err != nil {
		t.Fatalf("mount: %v", err)
	}

	if got := h.gs.Get("user.data"); got != "ada" {
		t.Fatalf("expected loaded value at user.data, got %v", got)
	}
	if got := h.gs.Get("user.numRefs"); got != 1 {
		t.Fatalf("expected one reference at user.numRefs, got %v", got)
	}
	stamp := h.envelope("user").Timestamp

	h.gs.Set("user.data", "bob")
	env := h.envelope("user")
	if env.Data != "bob" || env.NumRefs != 1 || env.Timestamp != stamp || env.Loading() {
		t.Fatalf("expected envelope bookkeeping kept, got %+v", env)
	}
	if got := b.Result(); got.Data != "bob" {
		t.Fatalf("expected binding to read the written data, got %+v", got)
	}
}
