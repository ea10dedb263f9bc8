package buffer

import "time"

// SubPool is a fixed-size reservation of pages pulled from a Manager's
// global pool at creation. Consumers of a SubPool see PoolExhausted only
// against their own reservation, never the global pool — this isolates a
// misbehaving operator or source from starving the rest of the worker.
//
// Buffers acquired from a SubPool recycle back to the SubPool, not to the
// global free list, until the SubPool itself is closed.
type SubPool struct {
	parent   *Manager
	freeList chan *page
	reserve  int
}

// CreateSubPool reserves `reserve` pages from the manager's global free
// list. It blocks (without timeout) until enough pages are available;
// callers should size reservations well below steady-state pool
// occupancy to avoid deadlock at startup.
func (m *Manager) CreateSubPool(reserve int) (*SubPool, error) {
	if reserve <= 0 {
		return nil, &Error{Kind: KindInvalidAttachment, Msg: "sub-pool reserve must be positive"}
	}

	sp := &SubPool{parent: m, freeList: make(chan *page, reserve), reserve: reserve}
	for i := 0; i < reserve; i++ {
		p := <-m.freeList
		p.recycle = sp.recycleToSubPool
		sp.freeList <- p
	}
	return sp, nil
}

func (sp *SubPool) recycleToSubPool(p *page) {
	sp.freeList <- p
}

// Acquire returns a page from this sub-pool's reservation at once when
// one is free; otherwise it blocks until one is released or timeout
// elapses.
func (sp *SubPool) Acquire(timeout time.Duration) (*TupleBuffer, error) {
	select {
	case p := <-sp.freeList:
		p.refcount = 1
		return newTupleBuffer(p), nil
	default:
	}
	select {
	case p := <-sp.freeList:
		p.refcount = 1
		return newTupleBuffer(p), nil
	case <-time.After(timeout):
		return nil, &Error{Kind: KindPoolExhausted, Msg: "sub-pool exhausted"}
	}
}

// TryAcquire is the non-blocking variant of Acquire.
func (sp *SubPool) TryAcquire() (*TupleBuffer, error) {
	select {
	case p := <-sp.freeList:
		p.refcount = 1
		return newTupleBuffer(p), nil
	default:
		return nil, &Error{Kind: KindPoolExhausted, Msg: "sub-pool exhausted"}
	}
}

// Close returns every reserved page back to the global pool. It is the
// caller's responsibility to ensure all buffers have been released first
// — Close does not wait, it only requires the reservation's own free list
// to be full.
func (sp *SubPool) Close() error {
	if len(sp.freeList) != sp.reserve {
		return &Error{Kind: KindBuffersLeaked, Msg: "sub-pool closed with outstanding buffers"}
	}
	for i := 0; i < sp.reserve; i++ {
		p := <-sp.freeList
		p.recycle = sp.parent.recycleToGlobal
		sp.parent.freeList <- p
	}
	return nil
}
