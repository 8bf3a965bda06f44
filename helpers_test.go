package gstate

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type traceRecorder struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (r *traceRecorder) LogEvent(event TraceEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *traceRecorder) kinds() []TraceKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]TraceKind, len(r.events))
	for i, event := range r.events {
		kinds[i] = event.Kind
	}
	return kinds
}

type harness struct {
	gs        *GlobalState
	clock     *fakeClock
	scheduler *ManualScheduler
	trace     *traceRecorder
}

func newHarness(initial any, opts ...Option) *harness {
	h := &harness{
		clock:     newFakeClock(),
		scheduler: &ManualScheduler{},
		trace:     &traceRecorder{},
	}
	base := []Option{WithClock(h.clock.Now), WithScheduler(h.scheduler), WithLogger(h.trace)}
	h.gs = New(initial, append(base, opts...)...)
	return h
}

func (h *harness) envelope(path string) Envelope {
	return asEnvelope(h.gs.Get(path))
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
