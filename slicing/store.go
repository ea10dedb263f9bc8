// Package slicing implements the slicing store: it maps an event-time
// timestamp to the slice(s) it belongs to, creates slices lazily, and
// drains slices whose window has closed once the watermark crosses their
// end.
//
// The store is sharded by slice id; the build path (get-or-create) takes
// a shared lock per shard, the trigger path (drain) takes an exclusive
// lock per shard. This mirrors the coarse-lock-per-keyed-bucket pattern
// in proxy/selector.go, applied here across N shards instead of one
// mutex so build-path contention scales with worker thread count.
package slicing

import (
	"hash/maphash"
	"sort"
	"sync"

	"github.com/pithecene-io/streamrun/metrics"
	"github.com/pithecene-io/streamrun/types"
)

// NewSliceFunc constructs the per-thread side-state for a freshly created
// slice. The aggregation operator handler supplies one that allocates a
// hash map per worker thread; the join handler supplies one that
// allocates paged vectors per worker thread per side.
type NewSliceFunc func(id types.SliceID) any

// Slice pairs a slice's time interval with its operator-owned side
// state. The State field's concrete type is whatever NewSliceFunc
// returned; callers type-assert it to the shape they expect.
type Slice struct {
	ID    types.SliceID
	State any
}

// TriggeredWindow groups the slices that make up one closed window,
// ready for the aggregation/join trigger path to merge and emit.
type TriggeredWindow struct {
	Window types.WindowInfo
	Slices []*Slice
}

type shard struct {
	mu     sync.RWMutex
	slices map[types.SliceID]*Slice
}

// Store is the slicing store for one operator instance.
type Store struct {
	spec     types.WindowSpec
	newSlice NewSliceFunc
	metrics  *metrics.Collector

	shards []*shard
	seed   maphash.Seed

	seqMu   sync.Mutex
	nextSeq types.SequenceNumber
}

// NewStore creates a Store with numShards independent shards. numShards
// should track the worker thread count for the best build-path
// parallelism.
func NewStore(spec types.WindowSpec, numShards int, newSlice NewSliceFunc, m *metrics.Collector) *Store {
	if numShards < 1 {
		numShards = 1
	}
	s := &Store{
		spec:     spec,
		newSlice: newSlice,
		metrics:  m,
		shards:   make([]*shard, numShards),
		seed:     maphash.MakeSeed(),
	}
	for i := range s.shards {
		s.shards[i] = &shard{slices: make(map[types.SliceID]*Slice)}
	}
	return s
}

func (s *Store) shardFor(id types.SliceID) *shard {
	var h maphash.Hash
	h.SetSeed(s.seed)
	var buf [16]byte
	putInt64(buf[0:8], id.Start)
	putInt64(buf[8:16], id.End)
	h.Write(buf[:])
	return s.shards[h.Sum64()%uint64(len(s.shards))]
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

// GetOrCreateSlice returns the slice covering event-time ts, creating it
// via NewSliceFunc if this is the first record to fall in its interval.
// Creation happens under the shard's exclusive lock after a second
// lookup, so concurrent callers for the same interval all get one slice
// and NewSliceFunc runs once for it.
func (s *Store) GetOrCreateSlice(ts int64) *Slice {
	id := s.spec.SliceBounds(ts)
	sh := s.shardFor(id)

	sh.mu.RLock()
	if sl, ok := sh.slices[id]; ok {
		sh.mu.RUnlock()
		return sl
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sl, ok := sh.slices[id]; ok {
		return sl
	}
	sl := &Slice{ID: id, State: s.newSlice(id)}
	sh.slices[id] = sl
	if s.metrics != nil {
		s.metrics.IncSlicesCreated()
	}
	return sl
}

// DrainTriggered returns every window whose end is <= watermark, removing
// their slices from the store. Windows are returned in ascending
// start-time order with a monotone sequence number assigned across this
// and all prior drains of this store.
func (s *Store) DrainTriggered(watermark int64) []TriggeredWindow {
	var ready []*Slice
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, sl := range sh.slices {
			if id.End <= watermark {
				ready = append(ready, sl)
				delete(sh.slices, id)
			}
		}
		sh.mu.Unlock()
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].ID.Start < ready[j].ID.Start })

	windows := groupIntoWindows(ready, s.spec)

	s.seqMu.Lock()
	for i := range windows {
		windows[i].Window.SequenceNumber = s.nextSeq
		s.nextSeq++
	}
	s.seqMu.Unlock()

	if s.metrics != nil {
		for range windows {
			s.metrics.IncWindowsTriggered()
		}
	}
	return windows
}

// groupIntoWindows partitions slices (sorted ascending by start) into
// windows of the configured size: K = window_size / slice_size
// contiguous slices per window for sliding windows, exactly one slice per
// window for tumbling windows.
func groupIntoWindows(slices []*Slice, spec types.WindowSpec) []TriggeredWindow {
	if len(slices) == 0 {
		return nil
	}
	sliceSize := spec.SliceSizeMillis()
	slicesPerWindow := int(spec.SizeMillis / sliceSize)
	if slicesPerWindow < 1 {
		slicesPerWindow = 1
	}

	var windows []TriggeredWindow
	for i := 0; i < len(slices); i += slicesPerWindow {
		end := i + slicesPerWindow
		if end > len(slices) {
			end = len(slices)
		}
		group := slices[i:end]
		windows = append(windows, TriggeredWindow{
			Window: types.WindowInfo{
				Start: group[0].ID.Start,
				End:   group[len(group)-1].ID.End,
			},
			Slices: group,
		})
	}
	return windows
}

// AllNonTriggered returns a snapshot of every live (not yet drained)
// slice, for state serialization.
func (s *Store) AllNonTriggered() []*Slice {
	var out []*Slice
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, sl := range sh.slices {
			out = append(out, sl)
		}
		sh.mu.RUnlock()
	}
	return out
}
