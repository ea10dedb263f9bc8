package watermark

import (
	"testing"
	"time"

	"github.com/pithecene-io/streamrun/types"
)

func barrier(origin types.OriginID, seq types.SequenceNumber, ts int64) types.WatermarkBarrier {
	return types.WatermarkBarrier{OriginID: origin, SequenceNumber: seq, Timestamp: ts}
}

func TestProcessor_MultiOriginWatermarkSequence(t *testing.T) {
	p := NewProcessor(0, nil, nil)
	p.RegisterOrigin(1)
	p.RegisterOrigin(2)

	if got := p.Advance(barrier(1, 0, 10)); got != noProgress {
		t.Errorf("global after A=10 (B unreported) = %d, want no progress", got)
	}

	if got := p.Advance(barrier(2, 0, 5)); got != 5 {
		t.Errorf("global after B=5 = %d, want 5", got)
	}

	if got := p.Advance(barrier(2, 1, 12)); got != 10 {
		t.Errorf("global after B=12 = %d, want 10 (min with A)", got)
	}
}

func TestProcessor_OutOfOrderBarriersReassembled(t *testing.T) {
	p := NewProcessor(0, nil, nil)
	p.RegisterOrigin(1)

	p.Advance(barrier(1, 2, 30))
	p.Advance(barrier(1, 1, 20))
	got := p.Advance(barrier(1, 0, 10))

	if got != 30 {
		t.Errorf("global after reassembly = %d, want 30", got)
	}
}

func TestProcessor_MonotoneNonDecreasing(t *testing.T) {
	p := NewProcessor(0, nil, nil)
	p.RegisterOrigin(1)

	prev := int64(-1 << 62)
	for i, ts := range []int64{5, 10, 10, 20} {
		got := p.Advance(barrier(1, types.SequenceNumber(i), ts))
		if got < prev {
			t.Fatalf("watermark decreased: %d -> %d", prev, got)
		}
		prev = got
	}
}

func TestProcessor_CheckStalls(t *testing.T) {
	p := NewProcessor(5*time.Millisecond, nil, nil)
	p.RegisterOrigin(1)
	p.Advance(barrier(1, 0, 1))

	time.Sleep(10 * time.Millisecond)

	stalled := p.CheckStalls()
	if len(stalled) != 1 || stalled[0] != types.OriginID(1) {
		t.Errorf("CheckStalls() = %v, want [1]", stalled)
	}
}

func TestProcessor_ShutdownGracefulFlushesToInfinity(t *testing.T) {
	p := NewProcessor(0, nil, nil)
	p.RegisterOrigin(1)
	p.Advance(barrier(1, 0, 5))

	got := p.Shutdown(ShutdownGraceful)
	if got == noProgress || got < 5 {
		t.Errorf("Shutdown(Graceful) = %d, want a final watermark >= 5", got)
	}
}

func TestProcessor_ShutdownDropDiscardsPending(t *testing.T) {
	p := NewProcessor(0, nil, nil)
	p.RegisterOrigin(1)
	p.Advance(barrier(1, 5, 50)) // buffered, out of order (expects seq 0 first)

	got := p.Shutdown(ShutdownDrop)
	if got != noProgress {
		t.Errorf("Shutdown(Drop) = %d, want no progress (buffered barrier discarded)", got)
	}
}
