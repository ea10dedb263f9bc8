package operator

import (
	"github.com/pithecene-io/streamrun/hashmap"
	"github.com/pithecene-io/streamrun/metrics"
	"github.com/pithecene-io/streamrun/pipeline"
	"github.com/pithecene-io/streamrun/slicing"
	"github.com/pithecene-io/streamrun/types"
)

// TimeExtractor returns a record's event-time timestamp.
type TimeExtractor func(record any) int64

// KeyExtractor returns a record's grouping key, exactly KeySize bytes.
type KeyExtractor func(record any) []byte

// ValueExtractor returns the scalar input value a Combiner folds in.
type ValueExtractor func(record any) int64

// AggregationConfig configures an AggregationHandler.
type AggregationConfig struct {
	KeySize          int
	BucketCount      int
	MaxArenaBytes    int
	NumWorkerThreads int
	OutputOriginID   types.OriginID

	Combiner  Combiner
	TimeFn    TimeExtractor
	KeyFn     KeyExtractor
	ValueFn   ValueExtractor
	Metrics   *metrics.Collector
}

// aggSliceState is the per-slice side-state: one hash map per worker
// thread, matching the spec's "Aggregation slice: one hash map per
// worker thread".
type aggSliceState struct {
	maps []*hashmap.OffsetHashMap
}

// AggregationHandler owns the full life cycle of one windowed
// aggregation: build (per-record update), trigger (watermark-driven
// packaging), and probe (merge-and-emit).
type AggregationHandler struct {
	cfg   AggregationConfig
	store *slicing.Store
}

// NewAggregationHandler creates a handler and its backing slicing store.
func NewAggregationHandler(spec types.WindowSpec, cfg AggregationConfig) *AggregationHandler {
	h := &AggregationHandler{cfg: cfg}
	h.store = slicing.NewStore(spec, cfg.NumWorkerThreads, h.newSlice, cfg.Metrics)
	return h
}

func (h *AggregationHandler) newSlice(types.SliceID) any {
	maps := make([]*hashmap.OffsetHashMap, h.cfg.NumWorkerThreads)
	for i := range maps {
		m, _ := hashmap.New(hashmap.Config{
			KeySize:       h.cfg.KeySize,
			ValueSize:     h.cfg.Combiner.ValueSize(),
			BucketCount:   h.cfg.BucketCount,
			MaxArenaBytes: h.cfg.MaxArenaBytes,
		})
		maps[i] = m
	}
	return &aggSliceState{maps: maps}
}

// Build updates the aggregation state for one incoming record on the
// given worker thread. ArenaExhausted aborts the current batch without
// leaving a partial update: the combiner is only invoked after
// FindOrCreate succeeds.
func (h *AggregationHandler) Build(workerID types.WorkerThreadID, record any) error {
	ts := h.cfg.TimeFn(record)
	slice := h.store.GetOrCreateSlice(ts)
	state := slice.State.(*aggSliceState)
	m := state.maps[workerID]

	key := h.cfg.KeyFn(record)
	hash := hashmap.Hash(key)

	offset, err := m.FindOrCreate(key, hash, h.cfg.Combiner.Init)
	if err != nil {
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.IncArenaExhausted()
		}
		return &Error{Kind: KindArenaExhausted, Msg: "aggregation build path", Err: err}
	}

	h.cfg.Combiner.Apply(m.Value(offset), h.cfg.ValueFn(record))
	return nil
}

// EmittedAggregationWindow is the trigger path's output: one window's
// worth of per-thread hash maps, still unmerged. The probe pipeline
// merges them into a single final map.
type EmittedAggregationWindow struct {
	Window types.WindowInfo
	Maps   []*hashmap.OffsetHashMap
}

// Trigger drains every window the watermark has closed and packages each
// one's non-empty per-thread maps for the probe pipeline. It does not
// emit buffers itself — TriggerAndEmit does that by also invoking
// pipeline.Emit with the encoded payload.
func (h *AggregationHandler) Trigger(watermark int64) []EmittedAggregationWindow {
	triggered := h.store.DrainTriggered(watermark)
	out := make([]EmittedAggregationWindow, 0, len(triggered))
	for _, tw := range triggered {
		var maps []*hashmap.OffsetHashMap
		for _, sl := range tw.Slices {
			state := sl.State.(*aggSliceState)
			for _, m := range state.maps {
				if m.Len() > 0 {
					maps = append(maps, m)
				}
			}
		}
		out = append(out, EmittedAggregationWindow{Window: tw.Window, Maps: maps})
	}
	return out
}

// TriggerAndEmit drains closed windows, encodes each as a buffer via the
// buffer manager, and emits it through ctx with last-chunk set and
// watermark stamped to the window start, per the trigger-path contract.
func (h *AggregationHandler) TriggerAndEmit(watermark int64, ctx *pipeline.ExecutionContext, workerID types.WorkerThreadID) error {
	for _, win := range h.Trigger(watermark) {
		payload := EncodeAggregationWindow(win, h.cfg.KeySize, h.cfg.Combiner.ValueSize())

		buf, err := ctx.BufferManager().AcquireUnpooled(len(payload), workerID)
		if err != nil {
			return err
		}
		copy(buf.Payload(), payload)
		buf.Metadata().NumTuples = uint32(countEntries(win.Maps))
		buf.Metadata().PayloadSize = uint32(len(payload))

		if err := ctx.Emit(buf, pipeline.EmitMeta{
			OriginID:    h.cfg.OutputOriginID,
			LastChunk:   true,
			WatermarkTS: win.Window.Start,
		}); err != nil {
			return err
		}
	}
	return nil
}

func countEntries(maps []*hashmap.OffsetHashMap) int {
	n := 0
	for _, m := range maps {
		n += m.Len()
	}
	return n
}

// Probe merges the N thread-local maps of an emitted window into one
// final map, invoking the combiner on any key present in more than one
// source map, then calls writeRecord once per final entry in iteration
// order.
func (h *AggregationHandler) Probe(win EmittedAggregationWindow, writeRecord func(key []byte, result int64) error) error {
	final, err := hashmap.New(hashmap.Config{
		KeySize:     h.cfg.KeySize,
		ValueSize:   h.cfg.Combiner.ValueSize(),
		BucketCount: h.cfg.BucketCount,
	})
	if err != nil {
		return err
	}

	for _, m := range win.Maps {
		m.Iter(func(offset uint32) {
			key := m.Key(offset)
			hash := hashmap.Hash(key)
			dst, ferr := final.FindOrCreate(key, hash, h.cfg.Combiner.Init)
			if ferr != nil {
				return
			}
			h.cfg.Combiner.Merge(final.Value(dst), m.Value(offset))
		})
	}

	var outerErr error
	final.Iter(func(offset uint32) {
		if outerErr != nil {
			return
		}
		outerErr = writeRecord(final.Key(offset), h.cfg.Combiner.Result(final.Value(offset)))
	})
	return outerErr
}
