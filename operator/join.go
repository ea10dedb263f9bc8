package operator

import (
	"github.com/pithecene-io/streamrun/metrics"
	"github.com/pithecene-io/streamrun/slicing"
	"github.com/pithecene-io/streamrun/types"
)

// JoinSide distinguishes the two build sides of a nested-loop join.
type JoinSide int

const (
	JoinLeft JoinSide = iota
	JoinRight
)

// JoinPredicate decides whether a left/right record pair matches. Both
// records are passed as their raw encoded bytes.
type JoinPredicate func(left, right []byte) bool

// JoinConfig configures a NestedLoopJoinHandler.
type JoinConfig struct {
	LeftRecordSize  int
	RightRecordSize int
	PageBytes       int

	NumWorkerThreads int
	OutputOriginID   types.OriginID

	LeftTimeFn  TimeExtractor
	RightTimeFn TimeExtractor

	// EncodeLeft/EncodeRight turn a record into its fixed-width wire
	// representation for the paged vector.
	EncodeLeft  func(record any) []byte
	EncodeRight func(record any) []byte

	Predicate JoinPredicate

	Metrics *metrics.Collector
}

// joinSliceState is the per-slice side-state: one paged vector per worker
// thread per side, matching the spec's "one paged vector per worker
// thread per build side" design for the nested-loop join.
type joinSliceState struct {
	left  []*PagedVector
	right []*PagedVector
}

// NestedLoopJoinHandler owns the build/trigger/probe life cycle of a
// windowed nested-loop join. The build path appends encoded records to
// the correct side's paged vector; the trigger path packages a closed
// window's vectors; the probe path performs the Cartesian product across
// all left/right vectors in that window, applying Predicate to each pair.
type NestedLoopJoinHandler struct {
	cfg   JoinConfig
	store *slicing.Store
}

// NewNestedLoopJoinHandler creates a handler and its backing slicing
// store.
func NewNestedLoopJoinHandler(spec types.WindowSpec, cfg JoinConfig) *NestedLoopJoinHandler {
	h := &NestedLoopJoinHandler{cfg: cfg}
	h.store = slicing.NewStore(spec, cfg.NumWorkerThreads, h.newSlice, cfg.Metrics)
	return h
}

func (h *NestedLoopJoinHandler) newSlice(types.SliceID) any {
	state := &joinSliceState{
		left:  make([]*PagedVector, h.cfg.NumWorkerThreads),
		right: make([]*PagedVector, h.cfg.NumWorkerThreads),
	}
	for i := 0; i < h.cfg.NumWorkerThreads; i++ {
		state.left[i] = NewPagedVector(h.cfg.LeftRecordSize, h.cfg.PageBytes)
		state.right[i] = NewPagedVector(h.cfg.RightRecordSize, h.cfg.PageBytes)
	}
	return state
}

// BuildLeft appends a left-side record to the slice its event time falls
// into, under the given worker thread's vector.
func (h *NestedLoopJoinHandler) BuildLeft(workerID types.WorkerThreadID, record any) {
	ts := h.cfg.LeftTimeFn(record)
	slice := h.store.GetOrCreateSlice(ts)
	state := slice.State.(*joinSliceState)
	state.left[workerID].Append(h.cfg.EncodeLeft(record))
}

// BuildRight appends a right-side record, mirroring BuildLeft.
func (h *NestedLoopJoinHandler) BuildRight(workerID types.WorkerThreadID, record any) {
	ts := h.cfg.RightTimeFn(record)
	slice := h.store.GetOrCreateSlice(ts)
	state := slice.State.(*joinSliceState)
	state.right[workerID].Append(h.cfg.EncodeRight(record))
}

// EmittedJoinWindow is the trigger path's output: one window's worth of
// per-thread left and right paged vectors, still unprobed.
type EmittedJoinWindow struct {
	Window types.WindowInfo
	Left   []*PagedVector
	Right  []*PagedVector
}

// Trigger drains every window the watermark has closed and packages each
// one's non-empty per-thread vectors for the probe pipeline.
func (h *NestedLoopJoinHandler) Trigger(watermark int64) []EmittedJoinWindow {
	triggered := h.store.DrainTriggered(watermark)
	out := make([]EmittedJoinWindow, 0, len(triggered))
	for _, tw := range triggered {
		var left, right []*PagedVector
		for _, sl := range tw.Slices {
			state := sl.State.(*joinSliceState)
			for _, v := range state.left {
				if v.Len() > 0 {
					left = append(left, v)
				}
			}
			for _, v := range state.right {
				if v.Len() > 0 {
					right = append(right, v)
				}
			}
		}
		out = append(out, EmittedJoinWindow{Window: tw.Window, Left: left, Right: right})
	}
	return out
}

// Probe performs the Cartesian product of every left record against
// every right record in win, calling emitMatch for each pair the
// predicate accepts. It short-circuits on the first error emitMatch
// returns.
func (h *NestedLoopJoinHandler) Probe(win EmittedJoinWindow, emitMatch func(left, right []byte) error) error {
	for _, lv := range win.Left {
		for li := 0; li < lv.Len(); li++ {
			left := lv.At(li)
			for _, rv := range win.Right {
				for ri := 0; ri < rv.Len(); ri++ {
					right := rv.At(ri)
					if !h.cfg.Predicate(left, right) {
						continue
					}
					if err := emitMatch(left, right); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// countJoinPairs reports the total number of records across a set of
// paged vectors, used when stamping NumTuples on an emitted buffer.
func countJoinPairs(vectors []*PagedVector) int {
	n := 0
	for _, v := range vectors {
		n += v.Len()
	}
	return n
}
