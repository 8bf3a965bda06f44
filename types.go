package gstate

import (
	"time"

	"github.com/goliatone/go-global-state/pkg/activity"
)

// Option configures a GlobalState at construction time.
type Option func(*config)

type config struct {
	ssr             *SSRContext
	scheduler       Scheduler
	clock           func() time.Time
	logger          Logger
	activityHooks   activity.Hooks
	activityChannel string
	activityActor   string
	activityTenant  string
}

func applyOptions(opts []Option) config {
	cfg := config{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.scheduler == nil {
		cfg.scheduler = TimerScheduler()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}
	return cfg
}

// WithSSRContext attaches ctx and switches the container into server-side
// rendering mode: writes mark ctx dirty synchronously and watching is refused.
func WithSSRContext(ctx *SSRContext) Option {
	return func(cfg *config) {
		cfg.ssr = ctx
	}
}

// WithScheduler overrides how deferred watcher notifications are scheduled.
func WithScheduler(s Scheduler) Option {
	return func(cfg *config) {
		cfg.scheduler = s
	}
}

// WithClock overrides the time source used for envelope timestamps and
// staleness checks.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		cfg.clock = clock
	}
}

// GetOption tunes a single Get call.
type GetOption func(*getConfig)

type getConfig struct {
	fromInitial     bool
	hasInitialValue bool
	initialValue    func() any
}

func applyGetOptions(opts []GetOption) getConfig {
	cfg := getConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// FromInitialState reads from the snapshot captured at construction instead
// of the current state.
func FromInitialState() GetOption {
	return func(cfg *getConfig) {
		cfg.fromInitial = true
	}
}

// WithInitialValue supplies a default returned, and written back into the
// current state, when nothing is stored at the requested path.
func WithInitialValue(value any) GetOption {
	return func(cfg *getConfig) {
		cfg.hasInitialValue = true
		cfg.initialValue = func() any { return value }
	}
}

// WithInitialValueFunc is WithInitialValue with a lazily computed default.
func WithInitialValueFunc(fn func() any) GetOption {
	return func(cfg *getConfig) {
		if fn == nil {
			return
		}
		cfg.hasInitialValue = true
		cfg.initialValue = fn
	}
}
