package operator

import (
	"testing"

	"github.com/pithecene-io/streamrun/buffer"
	"github.com/pithecene-io/streamrun/pipeline"
	"github.com/pithecene-io/streamrun/types"
)

type kvRecord struct {
	key   int64
	value int64
	ts    int64
}

func tumblingAggHandler() *AggregationHandler {
	spec := types.WindowSpec{Kind: types.WindowTumbling, SizeMillis: 10}
	return NewAggregationHandler(spec, AggregationConfig{
		KeySize:          8,
		BucketCount:      8,
		MaxArenaBytes:    1 << 16,
		NumWorkerThreads: 1,
		OutputOriginID:   types.OriginID(1),
		Combiner:         NewSumCombiner(),
		TimeFn:           func(r any) int64 { return r.(kvRecord).ts },
		KeyFn: func(r any) []byte {
			k := r.(kvRecord).key
			b := make([]byte, 8)
			putInt64(b, k)
			return b
		},
		ValueFn: func(r any) int64 { return r.(kvRecord).value },
	})
}

// TestAggregationHandler_TumblingSumScenario exercises the spec's worked
// example: window size 10ms, records (1,1,t1) (1,2,t5) (2,3,t7) (1,4,t15).
// After watermark>=10: window [0,10) emits {1:3, 2:3}.
// After watermark>=20: window [10,20) emits {1:4}.
func TestAggregationHandler_TumblingSumScenario(t *testing.T) {
	h := tumblingAggHandler()

	records := []kvRecord{
		{key: 1, value: 1, ts: 1},
		{key: 1, value: 2, ts: 5},
		{key: 2, value: 3, ts: 7},
		{key: 1, value: 4, ts: 15},
	}
	for _, r := range records {
		if err := h.Build(0, r); err != nil {
			t.Fatalf("Build(%+v) error = %v", r, err)
		}
	}

	windows := h.Trigger(10)
	if len(windows) != 1 {
		t.Fatalf("Trigger(10) windows = %d, want 1", len(windows))
	}
	if windows[0].Window.Start != 0 || windows[0].Window.End != 10 {
		t.Fatalf("window bounds = [%d,%d), want [0,10)", windows[0].Window.Start, windows[0].Window.End)
	}

	got := map[int64]int64{}
	err := h.Probe(windows[0], func(key []byte, result int64) error {
		got[getInt64(key)] = result
		return nil
	})
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	want := map[int64]int64{1: 3, 2: 3}
	if len(got) != len(want) || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("window [0,10) results = %v, want %v", got, want)
	}

	windows2 := h.Trigger(20)
	if len(windows2) != 1 {
		t.Fatalf("Trigger(20) windows = %d, want 1", len(windows2))
	}
	if windows2[0].Window.Start != 10 || windows2[0].Window.End != 20 {
		t.Fatalf("window bounds = [%d,%d), want [10,20)", windows2[0].Window.Start, windows2[0].Window.End)
	}
	got2 := map[int64]int64{}
	h.Probe(windows2[0], func(key []byte, result int64) error {
		got2[getInt64(key)] = result
		return nil
	})
	if len(got2) != 1 || got2[1] != 4 {
		t.Errorf("window [10,20) results = %v, want {1:4}", got2)
	}
}

func TestAggregationHandler_AvgMergesAcrossThreads(t *testing.T) {
	spec := types.WindowSpec{Kind: types.WindowTumbling, SizeMillis: 10}
	h := NewAggregationHandler(spec, AggregationConfig{
		KeySize:          8,
		BucketCount:      8,
		MaxArenaBytes:    1 << 16,
		NumWorkerThreads: 2,
		Combiner:         NewAvgCombiner(),
		TimeFn:           func(r any) int64 { return r.(kvRecord).ts },
		KeyFn: func(r any) []byte {
			b := make([]byte, 8)
			putInt64(b, r.(kvRecord).key)
			return b
		},
		ValueFn: func(r any) int64 { return r.(kvRecord).value },
	})

	if err := h.Build(0, kvRecord{key: 1, value: 10, ts: 1}); err != nil {
		t.Fatal(err)
	}
	if err := h.Build(1, kvRecord{key: 1, value: 20, ts: 2}); err != nil {
		t.Fatal(err)
	}

	windows := h.Trigger(10)
	if len(windows) != 1 {
		t.Fatalf("windows = %d, want 1", len(windows))
	}
	got := map[int64]int64{}
	if err := h.Probe(windows[0], func(key []byte, result int64) error {
		got[getInt64(key)] = result
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	// (10+20)/2 = 15, NOT avg(10,20) misapplied as two more data points.
	if got[1] != 15 {
		t.Errorf("merged avg = %d, want 15", got[1])
	}
}

func TestAggregationHandler_TriggerAndEmitProducesDecodableBuffer(t *testing.T) {
	h := tumblingAggHandler()
	if err := h.Build(0, kvRecord{key: 1, value: 7, ts: 1}); err != nil {
		t.Fatal(err)
	}

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

	decoded, err := DecodeAggregationWindow(emitted.Payload()[:emitted.Metadata().PayloadSize])
	if err != nil {
		t.Fatalf("DecodeAggregationWindow() error = %v", err)
	}
	if decoded.Window.Start != 0 || decoded.Window.End != 10 {
		t.Errorf("decoded window = [%d,%d), want [0,10)", decoded.Window.Start, decoded.Window.End)
	}
	if len(decoded.Maps) != 1 || decoded.Maps[0].Len() != 1 {
		t.Fatalf("decoded maps = %+v, want one map with one entry", decoded.Maps)
	}
}
