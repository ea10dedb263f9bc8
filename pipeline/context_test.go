package pipeline

import (
	"testing"

	"github.com/pithecene-io/streamrun/buffer"
	"github.com/pithecene-io/streamrun/types"
)

func newTestCtx(t *testing.T, downstream DownstreamFunc) *ExecutionContext {
	t.Helper()
	mgr, err := buffer.NewManager(buffer.Config{PageSize: 64, NumPages: 4})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return New(Config{
		ID:           types.PipelineID("p1"),
		BufferMgr:    mgr,
		Continuation: ContinuationPossible,
		Downstream:   downstream,
	})
}

func TestExecutionContext_StateMachineLegalTransitions(t *testing.T) {
	ctx := newTestCtx(t, func(*buffer.TupleBuffer) error { return nil })

	for _, to := range []State{Open, Running, Closing, Closed} {
		if err := ctx.Transition(to); err != nil {
			t.Fatalf("Transition(%v) error = %v", to, err)
		}
	}
}

func TestExecutionContext_IllegalTransitionRejected(t *testing.T) {
	ctx := newTestCtx(t, func(*buffer.TupleBuffer) error { return nil })

	if err := ctx.Transition(Running); !IsInvalidState(err) {
		t.Fatalf("Transition(Created->Running) error = %v, want InvalidState", err)
	}
}

func TestExecutionContext_EmitOutsideOpenRunningFails(t *testing.T) {
	ctx := newTestCtx(t, func(*buffer.TupleBuffer) error { return nil })
	mgr := ctx.BufferManager()
	buf, _ := mgr.Acquire(0)

	if err := ctx.Emit(buf, EmitMeta{}); !IsInvalidState(err) {
		t.Fatalf("Emit() in Created state error = %v, want InvalidState", err)
	}
}

func TestExecutionContext_EmitStampsMetadataAndDispatchesInline(t *testing.T) {
	var received *buffer.TupleBuffer
	ctx := newTestCtx(t, func(b *buffer.TupleBuffer) error {
		received = b
		return nil
	})
	ctx.Transition(Open)
	ctx.Transition(Running)

	buf, _ := ctx.BufferManager().Acquire(0)
	err := ctx.Emit(buf, EmitMeta{OriginID: 7, LastChunk: true, WatermarkTS: 123})
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if received == nil {
		t.Fatal("downstream was not invoked")
	}
	if received.Metadata().OriginID != 7 || !received.Metadata().LastChunk || received.Metadata().WatermarkTS != 123 {
		t.Errorf("metadata = %+v, want origin 7, last-chunk true, watermark 123", received.Metadata())
	}

	buf2, _ := ctx.BufferManager().Acquire(0)
	if err := ctx.Emit(buf2, EmitMeta{OriginID: 7}); err != nil {
		t.Fatalf("second Emit() error = %v", err)
	}
	if received.Metadata().SequenceNumber != 1 {
		t.Errorf("second emit sequence = %d, want 1 (monotone per origin)", received.Metadata().SequenceNumber)
	}
}

func TestExecutionContext_HandlerRegistry(t *testing.T) {
	ctx := newTestCtx(t, func(*buffer.TupleBuffer) error { return nil })
	ctx.Transition(Open)

	if err := ctx.RegisterHandler(types.OperatorID("agg-1"), 42); err != nil {
		t.Fatalf("RegisterHandler() error = %v", err)
	}
	h, ok := ctx.GetLocalState(types.OperatorID("agg-1"))
	if !ok || h.(int) != 42 {
		t.Errorf("GetLocalState() = (%v, %v), want (42, true)", h, ok)
	}
}
