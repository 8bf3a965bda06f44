package gstate

import (
	"context"

	"github.com/goliatone/go-global-state/pkg/activity"
)

// WithActivityHooks attaches activity hooks notified after every write, load
// start, load completion and eviction. Hooks are cloned and nil entries
// dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := activity.CloneHooks(hooks)
	return func(cfg *config) {
		cfg.activityHooks = normalized
	}
}

// WithActivityChannel overrides the channel stamped on emitted events.
func WithActivityChannel(channel string) Option {
	return func(cfg *config) {
		cfg.activityChannel = channel
	}
}

// WithActivityActor stamps actor and tenant ids on emitted events.
func WithActivityActor(actorID, tenantID string) Option {
	return func(cfg *config) {
		cfg.activityActor = actorID
		cfg.activityTenant = tenantID
	}
}

// ActivityHooks returns a copy of the configured hooks.
func (gs *GlobalState) ActivityHooks() activity.Hooks {
	if gs == nil {
		return nil
	}
	return activity.CloneHooks(gs.hooks)
}

type loadEventKind int

const (
	loadStarted loadEventKind = iota
	loadCompleted
)

func newActivityEmitter(cfg config) *activity.Emitter {
	logger := cfg.logger
	return activity.NewEmitter(cfg.activityHooks, activity.Config{
		Enabled: cfg.activityHooks.Enabled(),
		Channel: cfg.activityChannel,
		OnError: func(event activity.Event, err error) {
			logger.LogEvent(TraceEvent{
				Kind:        TraceActivityFail,
				Path:        event.ObjectID,
				OperationID: event.OperationID,
				Err:         err,
			})
		},
	})
}

func (gs *GlobalState) stateInput(path, opID string, old, value any) activity.StateEventInput {
	return activity.StateEventInput{
		Path:        path,
		OperationID: opID,
		OldValue:    old,
		NewValue:    value,
		ActorID:     gs.actorID,
		TenantID:    gs.tenantID,
		OccurredAt:  gs.clock(),
	}
}

func (gs *GlobalState) emitUpdate(path string, old, value any) {
	if !gs.emitter.Enabled() {
		return
	}
	_ = gs.emitter.Emit(context.Background(), activity.BuildStateUpdatedEvent(gs.stateInput(path, "", old, value)))
}

func (gs *GlobalState) emitLoad(kind loadEventKind, path, opID string, data any) {
	if !gs.emitter.Enabled() {
		return
	}
	input := gs.stateInput(path, opID, nil, data)
	event := activity.BuildLoadStartedEvent(input)
	if kind == loadCompleted {
		event = activity.BuildLoadCompletedEvent(input)
	}
	_ = gs.emitter.Emit(context.Background(), event)
}

func (gs *GlobalState) emitEvict(path string, old any) {
	if !gs.emitter.Enabled() {
		return
	}
	_ = gs.emitter.Emit(context.Background(), activity.BuildStateEvictedEvent(gs.stateInput(path, "", old, nil)))
}
