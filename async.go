package gstate

import (
	"context"
	"sync"
)

// AbortCallback runs when the operation it was registered for is superseded
// before completing. It receives the superseded operation id.
type AbortCallback func(operationID string)

// Loader produces the data for an envelope. old is the data held before the
// load started. Returning Immediate finalizes within the Load call; Deferred
// finalizes when the future settles.
type Loader func(old any, meta *LoadMeta) (Result, error)

// LoadMeta describes the operation a Loader is running for.
type LoadMeta struct {
	OperationID      string
	OldDataTimestamp int64

	gs   *GlobalState
	path string
}

// IsAborted reports whether this operation was superseded or the envelope no
// longer names it. It is also true once the operation has finalized.
func (m *LoadMeta) IsAborted() bool {
	if m == nil || m.gs == nil {
		return true
	}
	if m.gs.ops.aborted(m.OperationID) {
		return true
	}
	return asEnvelope(m.gs.Get(m.path)).OperationID != m.OperationID
}

// SetAbortCallback registers cb to run if this operation is superseded. When
// the operation was already superseded cb runs immediately. After the
// operation finished it returns ErrOperationFinished.
func (m *LoadMeta) SetAbortCallback(cb AbortCallback) error {
	if m == nil || m.gs == nil {
		return ErrOperationFinished
	}
	return m.gs.ops.setAbortCallback(m.OperationID, cb)
}

// State returns the container's current state, for loaders deriving their
// value from other parts of the tree.
func (m *LoadMeta) State() any {
	if m == nil || m.gs == nil {
		return nil
	}
	return m.gs.Get("")
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	operationID  string
	hasOld       bool
	oldData      any
	oldTimestamp int64
}

// WithOldData passes data and its timestamp to the loader instead of reading
// them from the envelope.
func WithOldData(data any, timestamp int64) LoadOption {
	return func(cfg *loadConfig) {
		cfg.hasOld = true
		cfg.oldData = data
		cfg.oldTimestamp = timestamp
	}
}

// WithOperationID sets the id of the issued operation. A client id is
// generated by default.
func WithOperationID(id string) LoadOption {
	return func(cfg *loadConfig) {
		cfg.operationID = id
	}
}

// Load runs loader for the envelope at path.
//
// A different operation already in flight at path is superseded: its abort
// callback fires and its eventual result is discarded. Immediate results are
// written before Load returns; deferred ones when their future settles, and
// the returned Result then carries a future that settles after that write.
//
// Loader errors are returned as is (or reject the returned future) and leave
// the envelope loading until another operation is issued for path.
func Load(gs *GlobalState, path string, loader Loader, opts ...LoadOption) (Result, error) {
	cfg := loadConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.operationID == "" {
		cfg.operationID = NewClientOperationID()
	}
	opID := cfg.operationID

	previous := gs.issue(path, opID)
	if !cfg.hasOld {
		cfg.oldData = previous.Data
		cfg.oldTimestamp = previous.Timestamp
	}

	meta := &LoadMeta{
		OperationID:      opID,
		OldDataTimestamp: cfg.oldTimestamp,
		gs:               gs,
		path:             path,
	}
	result, err := loader(cfg.oldData, meta)
	if err != nil {
		gs.ops.finish(opID)
		return Result{}, err
	}
	if !result.IsDeferred() {
		gs.finalize(path, opID, result.Value())
		return result, nil
	}

	out := NewFuture()
	go func() {
		data, err := result.future.Wait(context.Background())
		if err != nil {
			gs.ops.finish(opID)
			out.Reject(err)
			return
		}
		gs.finalize(path, opID, data)
		out.Resolve(data)
	}()
	return Deferred(out), nil
}

// issue writes opID into the envelope at path. A different operation in
// flight there is aborted first, so its callback still observes its own id in
// the envelope. It returns the envelope as it was before the write.
func (gs *GlobalState) issue(path, opID string) (previous Envelope) {
	gs.ops.begin(opID)
	gs.abortInFlight(path, opID)
	var raced string
	gs.Update(path, func(current any) any {
		env := asEnvelope(current)
		previous = env
		if env.OperationID != opID {
			raced = env.OperationID
		}
		env.OperationID = opID
		return env.encode(current)
	})
	// Another load may have been issued between the abort and the write.
	if raced != "" {
		gs.ops.abort(raced)
	}
	gs.logger.LogEvent(TraceEvent{Kind: TraceLoadStart, Path: path, OperationID: opID, OldValue: previous.Data})
	gs.emitLoad(loadStarted, path, opID, nil)
	return previous
}

// abortInFlight aborts the operation recorded at path unless it is keep.
func (gs *GlobalState) abortInFlight(path, keep string) {
	if id := asEnvelope(gs.Get(path)).OperationID; id != "" && id != keep {
		gs.ops.abort(id)
	}
}

// finalize stores data when opID is still the operation of record for path.
func (gs *GlobalState) finalize(path, opID string, data any) bool {
	gs.ops.finish(opID)
	applied := false
	gs.Update(path, func(current any) any {
		env := asEnvelope(current)
		if env.OperationID != opID {
			return current
		}
		applied = true
		env.Data = data
		env.OperationID = ""
		env.Timestamp = gs.nowMillis()
		return env.encode(current)
	})
	if !applied {
		gs.logger.LogEvent(TraceEvent{Kind: TraceLoadDiscard, Path: path, OperationID: opID, NewValue: data})
		return false
	}
	gs.logger.LogEvent(TraceEvent{Kind: TraceLoadFinish, Path: path, OperationID: opID, NewValue: data, State: gs.Get("")})
	gs.emitLoad(loadCompleted, path, opID, data)
	return true
}

// commit writes data into the envelope at path directly, superseding any
// operation in flight.
func (gs *GlobalState) commit(path string, data any) {
	gs.abortInFlight(path, "")
	var raced string
	gs.Update(path, func(current any) any {
		env := asEnvelope(current)
		raced = env.OperationID
		env.Data = data
		env.OperationID = ""
		env.Timestamp = gs.nowMillis()
		return env.encode(current)
	})
	if raced != "" {
		gs.ops.abort(raced)
	}
}

type opState int

const (
	opActive opState = iota
	opAborted
)

type operation struct {
	state    opState
	callback AbortCallback
}

// operationRegistry holds abort callbacks of operations that have not
// finalized yet. It is owned by a single GlobalState.
type operationRegistry struct {
	mu  sync.Mutex
	ops map[string]*operation
}

func newOperationRegistry() *operationRegistry {
	return &operationRegistry{ops: map[string]*operation{}}
}

func (r *operationRegistry) begin(id string) {
	r.mu.Lock()
	if _, ok := r.ops[id]; !ok {
		r.ops[id] = &operation{}
	}
	r.mu.Unlock()
}

func (r *operationRegistry) finish(id string) {
	r.mu.Lock()
	delete(r.ops, id)
	r.mu.Unlock()
}

// abort marks id superseded and runs its callback, at most once.
func (r *operationRegistry) abort(id string) {
	r.mu.Lock()
	op, ok := r.ops[id]
	if !ok || op.state == opAborted {
		r.mu.Unlock()
		return
	}
	op.state = opAborted
	cb := op.callback
	op.callback = nil
	r.mu.Unlock()
	if cb != nil {
		cb(id)
	}
}

// aborted reports whether id was superseded and has not finished yet.
func (r *operationRegistry) aborted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	return ok && op.state == opAborted
}

func (r *operationRegistry) setAbortCallback(id string, cb AbortCallback) error {
	r.mu.Lock()
	op, ok := r.ops[id]
	if !ok {
		r.mu.Unlock()
		return ErrOperationFinished
	}
	if op.state == opAborted {
		r.mu.Unlock()
		if cb != nil {
			cb(id)
		}
		return nil
	}
	op.callback = cb
	r.mu.Unlock()
	return nil
}

func (r *operationRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}
