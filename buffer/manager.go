// Package buffer implements the fixed-size pooled page allocator and
// reference-counted tuple buffer described in component A of the runtime
// data plane: one contiguous backing allocation sliced into page-aligned
// segments, an MPMC-like free list, fixed-size sub-pools reserved from
// the global pool, and a per-worker unpooled arena for buffers larger
// than one page.
//
// Grounded on nes-memory/BufferManager.cpp.
package buffer

import (
	"time"

	"github.com/pithecene-io/streamrun/log"
	"github.com/pithecene-io/streamrun/metrics"
)

// Manager owns N pooled pages, each with a stable backing array for the
// life of the manager. Acquisition pulls from a buffered channel acting
// as the MPMC free list: receiving is wait-free when non-empty and
// bounded-wait (via time.After) when empty.
type Manager struct {
	pageSize int
	numPages int

	freeList chan *page
	pages    []*page // retained so Destroy can verify nothing leaked

	unpooled *unpooledAllocator

	logger  *log.Logger
	metrics *metrics.Collector
}

// Config configures a Manager.
type Config struct {
	PageSize int
	NumPages int
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// NewManager allocates one contiguous backing region of
// NumPages*PageSize bytes, slices it into NumPages pages of PageSize
// bytes each, and pre-loads the free list. Each page's slice is capped at
// PageSize, so writes through one page never reach its neighbour. The
// region gets whatever alignment the Go allocator gives it; no further
// alignment is applied.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PageSize <= 0 {
		return nil, &Error{Kind: KindInvalidAttachment, Msg: "page size must be positive"}
	}
	if cfg.NumPages <= 0 {
		return nil, &Error{Kind: KindInvalidAttachment, Msg: "num pages must be positive"}
	}

	m := &Manager{
		pageSize: cfg.PageSize,
		numPages: cfg.NumPages,
		freeList: make(chan *page, cfg.NumPages),
		pages:    make([]*page, 0, cfg.NumPages),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	m.unpooled = newUnpooledAllocator(m.metrics)

	backing := make([]byte, cfg.PageSize*cfg.NumPages)
	for i := 0; i < cfg.NumPages; i++ {
		lo, hi := i*cfg.PageSize, (i+1)*cfg.PageSize
		p := &page{data: backing[lo:hi:hi]}
		p.recycle = m.recycleToGlobal
		m.pages = append(m.pages, p)
		m.freeList <- p
	}

	return m, nil
}

func (m *Manager) recycleToGlobal(p *page) {
	m.freeList <- p
	if m.metrics != nil {
		m.metrics.IncBuffersReleased()
	}
}

// Acquire returns a free page at once when one is available; otherwise it
// blocks until a page is released or timeout elapses, returning
// PoolExhausted on timeout.
func (m *Manager) Acquire(timeout time.Duration) (*TupleBuffer, error) {
	select {
	case p := <-m.freeList:
		p.refcount = 1
		m.onAcquire()
		return newTupleBuffer(p), nil
	default:
	}
	select {
	case p := <-m.freeList:
		p.refcount = 1
		m.onAcquire()
		return newTupleBuffer(p), nil
	case <-time.After(timeout):
		if m.metrics != nil {
			m.metrics.IncPoolExhausted()
		}
		return nil, &Error{Kind: KindPoolExhausted, Msg: "no buffer available within timeout"}
	}
}

// TryAcquire returns immediately, failing with PoolExhausted if no page
// is free.
func (m *Manager) TryAcquire() (*TupleBuffer, error) {
	select {
	case p := <-m.freeList:
		p.refcount = 1
		m.onAcquire()
		return newTupleBuffer(p), nil
	default:
		if m.metrics != nil {
			m.metrics.IncPoolExhausted()
		}
		return nil, &Error{Kind: KindPoolExhausted, Msg: "no buffer available"}
	}
}

func (m *Manager) onAcquire() {
	if m.metrics != nil {
		m.metrics.IncBuffersAcquired()
	}
}

// PageSize returns the fixed page size this manager was configured with.
func (m *Manager) PageSize() int { return m.pageSize }

// NumPages returns the total number of pooled pages.
func (m *Manager) NumPages() int { return m.numPages }

// AvailablePages returns a snapshot count of pages currently in the free
// list. Racy by nature; intended for metrics/diagnostics only.
func (m *Manager) AvailablePages() int { return len(m.freeList) }

// Destroy verifies every page has been returned to the free list and
// releases the manager's references to them. A non-fully-drained free
// list indicates an operator failed to release a buffer — fatal, since
// it signals a refcount bug rather than a transient condition.
func (m *Manager) Destroy() error {
	if len(m.freeList) != m.numPages {
		if m.logger != nil {
			m.logger.Error("buffer manager destroyed with outstanding buffers", map[string]any{
				"available": len(m.freeList),
				"total":     m.numPages,
			})
		}
		return &Error{Kind: KindBuffersLeaked, Msg: "not all pages were returned before destroy"}
	}
	close(m.freeList)
	m.pages = nil
	return nil
}
