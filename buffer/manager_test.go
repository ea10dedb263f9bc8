package buffer

import (
	"testing"
	"time"

	"github.com/pithecene-io/streamrun/types"
)

func newTestManager(t *testing.T, numPages int) *Manager {
	t.Helper()
	m, err := NewManager(Config{PageSize: 64, NumPages: numPages})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestManager_AcquireReleaseRoundTrip(t *testing.T) {
	m := newTestManager(t, 4)

	b, err := m.Acquire(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if m.AvailablePages() != 3 {
		t.Errorf("AvailablePages() = %d, want 3", m.AvailablePages())
	}

	b.Release()
	if m.AvailablePages() != 4 {
		t.Errorf("AvailablePages() after release = %d, want 4", m.AvailablePages())
	}

	if err := m.Destroy(); err != nil {
		t.Errorf("Destroy() error = %v, want nil", err)
	}
}

func TestManager_PoolExhaustionAndRetry(t *testing.T) {
	m := newTestManager(t, 4)

	bufs := make([]*TupleBuffer, 4)
	for i := range bufs {
		b, err := m.Acquire(10 * time.Millisecond)
		if err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
		bufs[i] = b
	}

	_, err := m.Acquire(50 * time.Millisecond)
	if !IsPoolExhausted(err) {
		t.Fatalf("Acquire() on exhausted pool error = %v, want PoolExhausted", err)
	}

	bufs[0].Release()

	b, err := m.Acquire(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	b.Release()
	for _, buf := range bufs[1:] {
		buf.Release()
	}
}

func TestManager_TryAcquireNonBlocking(t *testing.T) {
	m := newTestManager(t, 1)

	b, err := m.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	if _, err := m.TryAcquire(); !IsPoolExhausted(err) {
		t.Errorf("TryAcquire() on exhausted pool error = %v, want PoolExhausted", err)
	}

	b.Release()
}

func TestManager_DestroyWithOutstandingBuffersFails(t *testing.T) {
	m := newTestManager(t, 2)

	b, err := m.Acquire(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	err = m.Destroy()
	if !IsBuffersLeaked(err) {
		t.Fatalf("Destroy() with outstanding buffer error = %v, want BuffersLeaked", err)
	}

	b.Release()
}

func TestManager_RetainSharesPageAcrossHandles(t *testing.T) {
	m := newTestManager(t, 2)

	b, err := m.Acquire(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	b.Metadata().OriginID = types.OriginID(7)

	clone := b.Retain()
	if clone.Metadata().OriginID != 7 {
		t.Errorf("clone metadata OriginID = %d, want 7", clone.Metadata().OriginID)
	}

	b.Release()
	if m.AvailablePages() != 1 {
		t.Errorf("AvailablePages() after first release = %d, want 1 (clone still held)", m.AvailablePages())
	}

	clone.Release()
	if m.AvailablePages() != 2 {
		t.Errorf("AvailablePages() after both released = %d, want 2", m.AvailablePages())
	}
}

func TestManager_SubPoolIsolatesExhaustion(t *testing.T) {
	m := newTestManager(t, 4)

	sp, err := m.CreateSubPool(2)
	if err != nil {
		t.Fatalf("CreateSubPool() error = %v", err)
	}
	if m.AvailablePages() != 2 {
		t.Errorf("AvailablePages() after reserve = %d, want 2", m.AvailablePages())
	}

	b1, err := sp.Acquire(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("sub-pool Acquire() error = %v", err)
	}
	b2, err := sp.Acquire(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("sub-pool Acquire() #2 error = %v", err)
	}

	if _, err := sp.TryAcquire(); !IsPoolExhausted(err) {
		t.Errorf("sub-pool TryAcquire() on exhausted reserve error = %v, want PoolExhausted", err)
	}
	// Global pool is untouched by the sub-pool's exhaustion.
	if _, err := m.TryAcquire(); err != nil {
		t.Errorf("global TryAcquire() while sub-pool exhausted error = %v, want nil", err)
	}

	b1.Release()
	b2.Release()
	if err := sp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestManager_AttachChildIsMoveOnly(t *testing.T) {
	m := newTestManager(t, 3)

	parent, _ := m.Acquire(10 * time.Millisecond)
	child, _ := m.Acquire(10 * time.Millisecond)

	parent, err := parent.AttachChild(child)
	if err != nil {
		t.Fatalf("AttachChild() error = %v", err)
	}

	if got := parent.Child(); got == nil {
		t.Fatal("Child() = nil after AttachChild")
	}

	another, _ := m.Acquire(10 * time.Millisecond)
	if _, err := parent.AttachChild(another); err == nil {
		t.Error("AttachChild() on already-attached parent succeeded, want error")
	}
	another.Release()
	parent.Release()
}

func TestManager_AcquireUnpooledReusesChunk(t *testing.T) {
	m := newTestManager(t, 1)

	b1, err := m.AcquireUnpooled(100, types.WorkerThreadID(0))
	if err != nil {
		t.Fatalf("AcquireUnpooled() error = %v", err)
	}
	if len(b1.Payload()) != 100 {
		t.Errorf("Payload() len = %d, want 100", len(b1.Payload()))
	}

	b2, err := m.AcquireUnpooled(50, types.WorkerThreadID(0))
	if err != nil {
		t.Fatalf("AcquireUnpooled() #2 error = %v", err)
	}
	if used := m.unpooled.arenaFor(types.WorkerThreadID(0)).last.used; used != 150 {
		t.Errorf("chunk used = %d, want 150 (both buffers carved from one chunk)", used)
	}

	b1.Release()
	b2.Release()
}
