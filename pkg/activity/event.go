package activity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Verbs emitted by the global state container.
const (
	VerbStateUpdated  = "state.updated"
	VerbLoadStarted   = "state.load.started"
	VerbLoadCompleted = "state.load.completed"
	VerbStateEvicted  = "state.evicted"
)

// ObjectTypePath is the object type of every state event; ObjectID holds the
// affected path.
const ObjectTypePath = "state.path"

// RootObjectID stands in for the empty path addressing the whole state.
const RootObjectID = "$root"

// Event describes one change observed in a state container.
type Event struct {
	Verb        string
	ObjectType  string
	ObjectID    string
	OperationID string
	ActorID     string
	TenantID    string
	Channel     string
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivityHook receives normalized events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans events out to zero or more hooks.
type Hooks []ActivityHook

// Enabled reports whether there are any hooks to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify normalizes event and forwards it to every hook, joining failures.
// Events without a verb or object id are dropped.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}

	normalized := NormalizeEvent(event)
	if normalized.Verb == "" || normalized.ObjectID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, normalized); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NormalizeEvent trims identifiers, defaults the object type and timestamp and
// detaches metadata from the caller's map.
func NormalizeEvent(event Event) Event {
	normalized := event
	normalized.Verb = strings.TrimSpace(event.Verb)
	normalized.ObjectType = strings.TrimSpace(event.ObjectType)
	if normalized.ObjectType == "" {
		normalized.ObjectType = ObjectTypePath
	}
	normalized.ObjectID = strings.TrimSpace(event.ObjectID)
	normalized.OperationID = strings.TrimSpace(event.OperationID)
	normalized.ActorID = strings.TrimSpace(event.ActorID)
	normalized.TenantID = strings.TrimSpace(event.TenantID)
	normalized.Channel = strings.TrimSpace(event.Channel)
	normalized.Metadata = cloneMap(event.Metadata)
	if normalized.OccurredAt.IsZero() {
		normalized.OccurredAt = time.Now()
	}
	return normalized
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
