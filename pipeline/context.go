// Package pipeline implements the pipeline execution context: per-
// pipeline scratch state, the operator-handler registry, and the emit
// path that stamps outgoing buffer metadata before handing it to the
// next pipeline or the network transport.
//
// The Created->Open->Running->Closing->Closed discipline and its strict
// "only the engine drives transitions" rule are grounded on
// runtime/ingestion.go's IngestionEngine, which enforces an analogous
// sequencing discipline (strictly monotonic frame sequence numbers) with
// a typed error for violations.
package pipeline

import (
	"sync"
	"time"

	"github.com/pithecene-io/streamrun/buffer"
	"github.com/pithecene-io/streamrun/log"
	"github.com/pithecene-io/streamrun/types"
)

// Continuation tells the scheduler whether emit may call the downstream
// pipeline inline (Possible) or must enqueue the buffer for the scheduler
// to drain on its own time slice (Required).
type Continuation int

const (
	ContinuationPossible Continuation = iota
	ContinuationRequired
)

// EmitMeta carries the buffer-metadata fields an operator computes at
// emit time; SequenceNumber and CreationTS are assigned by the context
// itself.
type EmitMeta struct {
	OriginID    types.OriginID
	ChunkNumber uint32
	LastChunk   bool
	WatermarkTS int64
}

// DownstreamFunc is invoked inline when Continuation is Possible.
type DownstreamFunc func(*buffer.TupleBuffer) error

// Config configures a new ExecutionContext.
type Config struct {
	ID           types.PipelineID
	BufferMgr    *buffer.Manager
	Continuation Continuation
	// Downstream is required when Continuation is ContinuationPossible.
	Downstream DownstreamFunc
	// Outbound is required when Continuation is ContinuationRequired; the
	// execution engine drains it on its own schedule.
	Outbound chan *buffer.TupleBuffer
	Logger   *log.Logger
}

// ExecutionContext holds one pipeline's state machine, operator-handler
// registry, and emit path.
type ExecutionContext struct {
	id        types.PipelineID
	bufferMgr *buffer.Manager
	logger    *log.Logger

	continuation Continuation
	downstream   DownstreamFunc
	outbound     chan *buffer.TupleBuffer

	mu    sync.Mutex
	state State

	handlersMu sync.RWMutex
	handlers   map[types.OperatorID]any
	globals    map[string]any

	seqMu      sync.Mutex
	nextSeqFor map[types.OriginID]types.SequenceNumber
}

// New creates an ExecutionContext in the Created state.
func New(cfg Config) *ExecutionContext {
	return &ExecutionContext{
		id:           cfg.ID,
		bufferMgr:    cfg.BufferMgr,
		logger:       cfg.Logger,
		continuation: cfg.Continuation,
		downstream:   cfg.Downstream,
		outbound:     cfg.Outbound,
		state:        Created,
		handlers:     make(map[types.OperatorID]any),
		globals:      make(map[string]any),
		nextSeqFor:   make(map[types.OriginID]types.SequenceNumber),
	}
}

// ID returns this context's pipeline id.
func (ctx *ExecutionContext) ID() types.PipelineID { return ctx.id }

// State returns the current lifecycle state.
func (ctx *ExecutionContext) State() State {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.state
}

// Transition advances the pipeline to the given state. Only the
// transitions in validTransitions are legal; anything else returns
// InvalidState.
func (ctx *ExecutionContext) Transition(to State) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if want, ok := validTransitions[ctx.state]; !ok || want != to {
		return &Error{Kind: KindInvalidState, Msg: ctx.state.String() + " -> " + to.String() + " is not a legal transition"}
	}
	ctx.state = to
	return nil
}

func (ctx *ExecutionContext) mutable() bool {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.state == Open || ctx.state == Running
}

// RegisterHandler installs the operator handler for operatorID. Handlers
// are plain values of whatever concrete type the aggregation/join
// packages define; callers type-assert after GetLocalState.
func (ctx *ExecutionContext) RegisterHandler(operatorID types.OperatorID, handler any) error {
	if !ctx.mutable() {
		return &Error{Kind: KindInvalidState, Msg: "cannot register handler outside Open/Running"}
	}
	ctx.handlersMu.Lock()
	ctx.handlers[operatorID] = handler
	ctx.handlersMu.Unlock()
	return nil
}

// GetLocalState returns the handler registered for operatorID.
func (ctx *ExecutionContext) GetLocalState(operatorID types.OperatorID) (any, bool) {
	ctx.handlersMu.RLock()
	defer ctx.handlersMu.RUnlock()
	h, ok := ctx.handlers[operatorID]
	return h, ok
}

// RegisterGlobalHandler installs a pipeline-wide collaborator (e.g. the
// buffer manager, a shared endpoint selector) under a string key.
func (ctx *ExecutionContext) RegisterGlobalHandler(key string, handler any) {
	ctx.handlersMu.Lock()
	ctx.globals[key] = handler
	ctx.handlersMu.Unlock()
}

// GetGlobalHandler returns the handler registered under key.
func (ctx *ExecutionContext) GetGlobalHandler(key string) (any, bool) {
	ctx.handlersMu.RLock()
	defer ctx.handlersMu.RUnlock()
	h, ok := ctx.globals[key]
	return h, ok
}

// BufferManager returns the buffer manager this context was configured
// with.
func (ctx *ExecutionContext) BufferManager() *buffer.Manager { return ctx.bufferMgr }

func (ctx *ExecutionContext) nextSeq(origin types.OriginID) types.SequenceNumber {
	ctx.seqMu.Lock()
	defer ctx.seqMu.Unlock()
	seq := ctx.nextSeqFor[origin]
	ctx.nextSeqFor[origin] = seq + 1
	return seq
}

// Emit stamps buf's sequence number, chunk number, last-chunk bit, and
// watermark before the buffer becomes visible downstream, then dispatches
// it per this context's continuation policy. Emit is only valid in
// Open/Running; any other state aborts with InvalidState.
func (ctx *ExecutionContext) Emit(buf *buffer.TupleBuffer, em EmitMeta) error {
	if !ctx.mutable() {
		return &Error{Kind: KindInvalidState, Msg: "emit outside Open/Running"}
	}

	m := buf.Metadata()
	m.OriginID = em.OriginID
	m.SequenceNumber = ctx.nextSeq(em.OriginID)
	m.ChunkNumber = em.ChunkNumber
	m.LastChunk = em.LastChunk
	m.WatermarkTS = em.WatermarkTS
	if m.CreationTS == 0 {
		m.CreationTS = time.Now().UnixMilli()
	}

	switch ctx.continuation {
	case ContinuationPossible:
		return ctx.downstream(buf)
	case ContinuationRequired:
		ctx.outbound <- buf
		return nil
	default:
		return &Error{Kind: KindInvalidState, Msg: "unknown continuation policy"}
	}
}
