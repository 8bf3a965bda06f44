package gstate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxSSRRounds bounds the number of render passes RenderSSR runs.
	DefaultMaxSSRRounds = 10
	// DefaultSSRTimeout bounds the total time RenderSSR waits on loads.
	DefaultSSRTimeout = time.Second
)

// SSRContext is shared between a server-side render orchestrator and the
// containers it creates: writes flag it dirty and snapshot the state, and
// server loads register their futures as pending.
type SSRContext struct {
	mu      sync.Mutex
	dirty   bool
	pending []*Future
	state   any
}

// NewSSRContext returns an empty context.
func NewSSRContext() *SSRContext {
	return &SSRContext{}
}

// Dirty reports whether any write happened since the last reset.
func (c *SSRContext) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Pending returns a copy of the futures registered by server loads.
func (c *SSRContext) Pending() []*Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.pending)
}

// State returns the latest state snapshot.
func (c *SSRContext) State() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Settle waits for all pending futures and returns the first failure.
func (c *SSRContext) Settle(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	group, ctx := errgroup.WithContext(ctx)
	for _, f := range c.Pending() {
		group.Go(func() error {
			_, err := f.Wait(ctx)
			return err
		})
	}
	return group.Wait()
}

func (c *SSRContext) reset(state any) {
	c.mu.Lock()
	c.dirty = false
	c.pending = nil
	c.state = state
	c.mu.Unlock()
}

func (c *SSRContext) markDirty(state any) {
	c.mu.Lock()
	c.dirty = true
	c.state = state
	c.mu.Unlock()
}

func (c *SSRContext) addPending(f *Future) {
	if f == nil {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, f)
	c.mu.Unlock()
}

// SSROption configures RenderSSR.
type SSROption func(*ssrConfig)

type ssrConfig struct {
	maxRounds int
	timeout   time.Duration
	options   []Option
}

// WithMaxSSRRounds caps the number of render passes.
func WithMaxSSRRounds(n int) SSROption {
	return func(cfg *ssrConfig) {
		if n > 0 {
			cfg.maxRounds = n
		}
	}
}

// WithSSRTimeout caps the total time spent waiting for pending loads. Once it
// elapses the last rendered pass is returned as is.
func WithSSRTimeout(d time.Duration) SSROption {
	return func(cfg *ssrConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithSSRStateOptions forwards options to the container created per pass.
func WithSSRStateOptions(opts ...Option) SSROption {
	return func(cfg *ssrConfig) {
		cfg.options = append(cfg.options, opts...)
	}
}

// SSRResult is the outcome of RenderSSR.
type SSRResult[T any] struct {
	Output   T
	State    any
	Rounds   int
	TimedOut bool
}

// RenderSSR drives server-side rendering. Each round creates a container in
// SSR mode seeded with the state reached so far and calls pass with it. A
// clean round ends the loop; a dirty one waits for the pending loads and
// renders again. Every round can only finish loads started earlier or start
// loads for paths not visited yet, so the loop converges for any finite tree.
//
// ErrSSRRoundsExceeded is returned, together with a populated result, when the
// last allowed round is still dirty.
func RenderSSR[T any](ctx context.Context, initial any, pass func(ctx context.Context, gs *GlobalState) (T, error), opts ...SSROption) (SSRResult[T], error) {
	cfg := ssrConfig{maxRounds: DefaultMaxSSRRounds, timeout: DefaultSSRTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	ssr := NewSSRContext()
	state := initial
	var result SSRResult[T]
	for round := 1; round <= cfg.maxRounds; round++ {
		options := append(slices.Clone(cfg.options), WithSSRContext(ssr))
		gs := New(state, options...)
		output, err := pass(WithProvider(ctx, gs), gs)
		if err != nil {
			return result, err
		}
		result.Output = output
		result.Rounds = round
		result.State = ssr.State()
		if !ssr.Dirty() {
			return result, nil
		}
		if round == cfg.maxRounds {
			break
		}
		if err := ssr.Settle(waitCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				result.TimedOut = true
				return result, nil
			}
			return result, err
		}
		state = ssr.State()
	}
	return result, fmt.Errorf("%w: %d", ErrSSRRoundsExceeded, cfg.maxRounds)
}
