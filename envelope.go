package gstate

import (
	"encoding/json"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/goliatone/go-global-state/objpath"
)

// Envelope tracks the lifecycle of one asynchronously loaded value. The state
// tree holds it as a map keyed by the JSON field names, so "user.data" or
// "user.numRefs" resolve like any other path. Envelope values seeded into the
// initial state are read as well and rewritten as maps on their first update.
//
// OperationID is non-empty exactly while a load is in flight. Timestamp is the
// completion time, in Unix milliseconds, of the latest successful load, with 0
// meaning never loaded. NumRefs counts mounted consumers and never drops below
// zero.
type Envelope struct {
	Data        any    `json:"data"`
	NumRefs     int    `json:"numRefs"`
	OperationID string `json:"operationId"`
	Timestamp   int64  `json:"timestamp"`
}

// EnvelopeOption configures NewEnvelope.
type EnvelopeOption func(*Envelope)

// WithNumRefs sets the initial reference count.
func WithNumRefs(n int) EnvelopeOption {
	return func(e *Envelope) {
		if n > 0 {
			e.NumRefs = n
		}
	}
}

// WithTimestamp sets the initial load timestamp (Unix milliseconds).
func WithTimestamp(ms int64) EnvelopeOption {
	return func(e *Envelope) {
		e.Timestamp = ms
	}
}

// NewEnvelope returns an idle envelope holding data.
func NewEnvelope(data any, opts ...EnvelopeOption) Envelope {
	env := Envelope{Data: data}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env
}

// Loading reports whether an operation is in flight.
func (e Envelope) Loading() bool {
	return e.OperationID != ""
}

// Operation id prefixes mark where a load was issued.
const (
	ClientOperationPrefix = "C"
	ServerOperationPrefix = "S"
)

// NewClientOperationID returns a fresh client-side operation id.
func NewClientOperationID() string {
	return ClientOperationPrefix + uuid.NewString()
}

// NewServerOperationID returns a fresh server-side operation id.
func NewServerOperationID() string {
	return ServerOperationPrefix + uuid.NewString()
}

// IsServerOperation reports whether id was issued during server rendering.
func IsServerOperation(id string) bool {
	return strings.HasPrefix(id, ServerOperationPrefix)
}

func idleEnvelope() any {
	return Envelope{}.encode(nil)
}

// encode returns e in the form it is stored in. Keys of a stored map other
// than the envelope fields are kept, and current is returned as is when it
// already holds e so unchanged envelopes do not notify.
func (e Envelope) encode(current any) any {
	stored, ok := current.(map[string]any)
	if ok && objpath.Same(asEnvelope(stored), e) {
		return current
	}
	out := make(map[string]any, len(stored)+4)
	maps.Copy(out, stored)
	out["data"] = e.Data
	out["numRefs"] = e.NumRefs
	out["operationId"] = e.OperationID
	out["timestamp"] = e.Timestamp
	return out
}

// asEnvelope converts whatever is stored at an envelope path into an
// Envelope. Numbers are accepted in any width so state serialized after
// server rendering and fed back as initial client state keeps working.
func asEnvelope(value any) Envelope {
	switch typed := value.(type) {
	case Envelope:
		return typed
	case *Envelope:
		if typed != nil {
			return *typed
		}
	case map[string]any:
		env := Envelope{Data: typed["data"]}
		env.NumRefs = int(asInt64(typed["numRefs"]))
		env.Timestamp = asInt64(typed["timestamp"])
		env.OperationID, _ = typed["operationId"].(string)
		return env
	}
	return Envelope{}
}

func asInt64(value any) int64 {
	switch n := value.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	case json.Number:
		v, err := n.Int64()
		if err != nil {
			f, _ := n.Float64()
			return int64(f)
		}
		return v
	default:
		return 0
	}
}
