package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/streamrun/metrics"
	"github.com/pithecene-io/streamrun/types"
)

// numPreAllocatedChunks scales a new arena chunk to a multiple of the
// worker's rolling-average allocation size, so bursts of small unpooled
// buffers don't each force a fresh allocation.
const numPreAllocatedChunks = 4

// unpooledChunkAlignment rounds chunk sizes up to a page-friendly
// boundary.
const unpooledChunkAlignment = 4096

// unpooledChunk is one arena allocation shared by many small unpooled
// buffers. It is reclaimed (eligible for GC) once every segment carved
// from it has been released.
type unpooledChunk struct {
	data           []byte
	used           int
	activeSegments int32
}

func (c *unpooledChunk) remaining() int { return len(c.data) - c.used }

// workerArena holds one worker thread's unpooled allocation state: its
// rolling size average and the chunk it is currently carving from.
type workerArena struct {
	mu    sync.Mutex
	avg   rollingAverage
	last  *unpooledChunk
}

// unpooledAllocator serves buffers larger than one pool page from
// per-worker-thread arenas, amortizing allocation the way
// BufferManager::getUnpooledBuffer does: reuse the last chunk if it has
// room, else allocate a new chunk sized off the rolling average.
type unpooledAllocator struct {
	mu      sync.Mutex
	workers map[types.WorkerThreadID]*workerArena
	metrics *metrics.Collector
}

func newUnpooledAllocator(m *metrics.Collector) *unpooledAllocator {
	return &unpooledAllocator{workers: make(map[types.WorkerThreadID]*workerArena), metrics: m}
}

func (a *unpooledAllocator) arenaFor(workerID types.WorkerThreadID) *workerArena {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.workers[workerID]
	if !ok {
		w = &workerArena{}
		a.workers[workerID] = w
	}
	return w
}

// AcquireUnpooled returns a buffer of at least size bytes from the given
// worker's arena. The buffer recycles its segment reference when
// released; the backing chunk is freed once every segment carved from it
// has been released.
func (m *Manager) AcquireUnpooled(size int, workerID types.WorkerThreadID) (*TupleBuffer, error) {
	if size <= 0 {
		return nil, &Error{Kind: KindArenaExhausted, Msg: "unpooled allocation size must be positive"}
	}

	w := m.unpooled.arenaFor(workerID)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.last == nil || w.last.remaining() < size {
		chunkSize := size
		if avg := w.avg.average(); avg*numPreAllocatedChunks > chunkSize {
			chunkSize = avg * numPreAllocatedChunks
		}
		chunkSize = roundUp(chunkSize, unpooledChunkAlignment)
		w.last = &unpooledChunk{data: make([]byte, chunkSize)}
	}

	chunk := w.last
	offset := chunk.used
	chunk.used += size
	atomic.AddInt32(&chunk.activeSegments, 1)
	w.avg.observe(size)

	if m.unpooled.metrics != nil {
		m.unpooled.metrics.IncUnpooledAllocs()
	}

	seg := &page{data: chunk.data[offset : offset+size : offset+size], refcount: 1}
	seg.recycle = func(*page) {
		atomic.AddInt32(&chunk.activeSegments, -1)
	}
	return newTupleBuffer(seg), nil
}

func roundUp(n, multiple int) int {
	if multiple <= 0 {
		return n
	}
	rem := n % multiple
	if rem == 0 {
		return n
	}
	return n + multiple - rem
}
