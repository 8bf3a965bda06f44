package activity

import (
	"strings"
	"time"
)

// StateEventInput carries the facts a state event is built from.
type StateEventInput struct {
	Path        string
	OperationID string
	OldValue    any
	NewValue    any
	ActorID     string
	TenantID    string
	Channel     string
	Metadata    map[string]any
	OccurredAt  time.Time
}

// BuildStateUpdatedEvent describes a write at Path.
func BuildStateUpdatedEvent(input StateEventInput) Event {
	return buildStateEvent(VerbStateUpdated, input)
}

// BuildLoadStartedEvent describes an async operation issued for Path.
func BuildLoadStartedEvent(input StateEventInput) Event {
	return buildStateEvent(VerbLoadStarted, input)
}

// BuildLoadCompletedEvent describes an async operation whose result was stored.
func BuildLoadCompletedEvent(input StateEventInput) Event {
	return buildStateEvent(VerbLoadCompleted, input)
}

// BuildStateEvictedEvent describes garbage collection of data at Path.
func BuildStateEvictedEvent(input StateEventInput) Event {
	return buildStateEvent(VerbStateEvicted, input)
}

func buildStateEvent(verb string, input StateEventInput) Event {
	metadata := cloneMap(input.Metadata)
	path := strings.TrimSpace(input.Path)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["path"] = path
	if input.OldValue != nil {
		metadata["old_value"] = input.OldValue
	}
	if input.NewValue != nil {
		metadata["new_value"] = input.NewValue
	}

	objectID := path
	if objectID == "" {
		objectID = RootObjectID
	}

	return Event{
		Verb:        verb,
		ObjectType:  ObjectTypePath,
		ObjectID:    objectID,
		OperationID: strings.TrimSpace(input.OperationID),
		ActorID:     strings.TrimSpace(input.ActorID),
		TenantID:    strings.TrimSpace(input.TenantID),
		Channel:     strings.TrimSpace(input.Channel),
		Metadata:    metadata,
		OccurredAt:  input.OccurredAt,
	}
}
