package activity

import (
	"context"
	"strings"
)

// DefaultChannel is applied to events emitted without a channel.
const DefaultChannel = "globalstate"

// Config controls activity emission defaults.
type Config struct {
	Enabled bool
	Channel string
	// OnError observes hook failures; Emit still returns them.
	OnError func(Event, error)
}

// Emitter fans out events to hooks while applying defaults. A nil Emitter is
// valid and disabled.
type Emitter struct {
	hooks   Hooks
	channel string
	onError func(Event, error)
}

// NewEmitter constructs an emitter from hooks and configuration. It returns
// nil when emission is disabled or there is nothing to notify.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	normalized := CloneHooks(hooks)
	if !cfg.Enabled || len(normalized) == 0 {
		return nil
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &Emitter{
		hooks:   normalized,
		channel: channel,
		onError: cfg.OnError,
	}
}

// Enabled reports whether emissions should be attempted.
func (e *Emitter) Enabled() bool {
	return e != nil && len(e.hooks) > 0
}

// Emit forwards event to all hooks, applying the default channel when missing.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	err := e.hooks.Notify(ctx, event)
	if err != nil && e.onError != nil {
		e.onError(event, err)
	}
	return err
}

// CloneHooks copies hooks dropping nil entries. It returns nil when nothing
// remains.
func CloneHooks(hooks Hooks) Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make(Hooks, 0, len(hooks))
	for _, hook := range hooks {
		if hook != nil {
			normalized = append(normalized, hook)
		}
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
