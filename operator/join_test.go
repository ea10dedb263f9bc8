package operator

import (
	"encoding/binary"
	"testing"

	"github.com/pithecene-io/streamrun/buffer"
	"github.com/pithecene-io/streamrun/pipeline"
	"github.com/pithecene-io/streamrun/types"
)

type sideRecord struct {
	id int64
	ts int64
}

func encodeSideRecord(r any) []byte {
	rec := r.(sideRecord)
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(rec.id))
	return b
}

func decodeSideRecordID(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}

func tumblingJoinHandler() *NestedLoopJoinHandler {
	spec := types.WindowSpec{Kind: types.WindowTumbling, SizeMillis: 10}
	return NewNestedLoopJoinHandler(spec, JoinConfig{
		LeftRecordSize:   8,
		RightRecordSize:  8,
		PageBytes:        64,
		NumWorkerThreads: 1,
		OutputOriginID:   types.OriginID(2),
		LeftTimeFn:       func(r any) int64 { return r.(sideRecord).ts },
		RightTimeFn:      func(r any) int64 { return r.(sideRecord).ts },
		EncodeLeft:       encodeSideRecord,
		EncodeRight:      encodeSideRecord,
		Predicate: func(left, right []byte) bool {
			return decodeSideRecordID(left) == decodeSideRecordID(right)
		},
	})
}

func TestNestedLoopJoinHandler_MatchesWithinWindow(t *testing.T) {
	h := tumblingJoinHandler()

	h.BuildLeft(0, sideRecord{id: 1, ts: 1})
	h.BuildLeft(0, sideRecord{id: 2, ts: 2})
	h.BuildRight(0, sideRecord{id: 1, ts: 3})
	h.BuildRight(0, sideRecord{id: 3, ts: 4})

	windows := h.Trigger(10)
	if len(windows) != 1 {
		t.Fatalf("Trigger(10) windows = %d, want 1", len(windows))
	}

	var matches [][2]int64
	err := h.Probe(windows[0], func(left, right []byte) error {
		matches = append(matches, [2]int64{decodeSideRecordID(left), decodeSideRecordID(right)})
		return nil
	})
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if len(matches) != 1 || matches[0] != [2]int64{1, 1} {
		t.Errorf("matches = %v, want [[1 1]]", matches)
	}
}

func TestNestedLoopJoinHandler_SeparatesWindows(t *testing.T) {
	h := tumblingJoinHandler()

	h.BuildLeft(0, sideRecord{id: 5, ts: 1})
	h.BuildRight(0, sideRecord{id: 5, ts: 15})

	windows := h.Trigger(10)
	if len(windows) != 1 {
		t.Fatalf("Trigger(10) windows = %d, want 1", len(windows))
	}
	var matches int
	h.Probe(windows[0], func(left, right []byte) error {
		matches++
		return nil
	})
	if matches != 0 {
		t.Errorf("matches across windows = %d, want 0 (left/right fall in different windows)", matches)
	}
}

func TestNestedLoopJoinHandler_TriggerAndEmitRoundTrips(t *testing.T) {
	h := tumblingJoinHandler()
	h.BuildLeft(0, sideRecord{id: 9, ts: 1})
	h.BuildRight(0, sideRecord{id: 9, ts: 2})

	mgr, err := buffer.NewManager(buffer.Config{PageSize: 64, NumPages: 4})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	var emitted *buffer.TupleBuffer
	ctx := pipeline.New(pipeline.Config{
		ID:           types.PipelineID("p1"),
		BufferMgr:    mgr,
		Continuation: pipeline.ContinuationPossible,
		Downstream: func(b *buffer.TupleBuffer) error {
			emitted = b
			return nil
		},
	})
	ctx.Transition(pipeline.Open)
	ctx.Transition(pipeline.Running)

	if err := h.TriggerAndEmit(10, ctx, 0); err != nil {
		t.Fatalf("TriggerAndEmit() error = %v", err)
	}
	if emitted == nil {
		t.Fatal("no buffer emitted")
	}

	decoded, err := DecodeJoinWindow(emitted.Payload()[:emitted.Metadata().PayloadSize])
	if err != nil {
		t.Fatalf("DecodeJoinWindow() error = %v", err)
	}
	if len(decoded.Left) != 1 || decoded.Left[0].Len() != 1 {
		t.Fatalf("decoded left = %+v, want one vector with one record", decoded.Left)
	}
	if len(decoded.Right) != 1 || decoded.Right[0].Len() != 1 {
		t.Fatalf("decoded right = %+v, want one vector with one record", decoded.Right)
	}
	if decodeSideRecordID(decoded.Left[0].At(0)) != 9 || decodeSideRecordID(decoded.Right[0].At(0)) != 9 {
		t.Errorf("decoded record ids mismatch")
	}
}
