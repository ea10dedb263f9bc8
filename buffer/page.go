package buffer

import (
	"sync/atomic"

	"github.com/pithecene-io/streamrun/types"
)

// page is one pooled, page-aligned allocation plus its colocated control
// block. It is never freed to the OS until the owning Manager is
// destroyed; once its refcount reaches zero it is returned to the
// recycler (the global pool or a sub-pool) instead.
//
// Grounded on nes-memory/BufferManager.cpp's MemorySegment: payload and
// control block share one allocation unit, and recycling is a closure
// captured at segment-creation time rather than a virtual call.
type page struct {
	data     []byte
	refcount int32
	recycle  func(*page)
	meta     types.BufferMetadata
	child    *page // attached child buffer; move-only, see AttachChild
}

// reset clears mutable state before a page re-enters circulation. Called
// by the recycler, never by a holder directly.
func (p *page) reset() {
	p.meta = types.BufferMetadata{}
	p.child = nil
}

func (p *page) retain() {
	atomic.AddInt32(&p.refcount, 1)
}

// release drops one reference and returns true if this was the last one.
func (p *page) release() bool {
	return atomic.AddInt32(&p.refcount, -1) == 0
}
