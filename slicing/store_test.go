package slicing

import (
	"sync"
	"testing"

	"github.com/pithecene-io/streamrun/types"
)

func tumblingSpec(sizeMillis int64) types.WindowSpec {
	return types.WindowSpec{Kind: types.WindowTumbling, SizeMillis: sizeMillis}
}

func TestStore_GetOrCreateSliceIsIdempotent(t *testing.T) {
	s := NewStore(tumblingSpec(10), 4, func(id types.SliceID) any { return map[string]int{} }, nil)

	a := s.GetOrCreateSlice(3)
	b := s.GetOrCreateSlice(7)

	if a != b {
		t.Errorf("GetOrCreateSlice(3) and (7) returned different slices, want same slice [0,10)")
	}
	if a.ID != (types.SliceID{Start: 0, End: 10}) {
		t.Errorf("slice id = %+v, want {0 10}", a.ID)
	}
}

func TestStore_GetOrCreateSliceConcurrentFirstWriterWins(t *testing.T) {
	s := NewStore(tumblingSpec(10), 4, func(id types.SliceID) any { return &struct{}{} }, nil)

	var wg sync.WaitGroup
	results := make([]*Slice, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.GetOrCreateSlice(5)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("concurrent GetOrCreateSlice returned distinct slices, want one winner")
		}
	}
}

func TestStore_DrainTriggeredTumblingOrder(t *testing.T) {
	s := NewStore(tumblingSpec(10), 4, func(id types.SliceID) any { return 0 }, nil)

	s.GetOrCreateSlice(15)
	s.GetOrCreateSlice(1)
	s.GetOrCreateSlice(25)

	windows := s.DrainTriggered(20)
	if len(windows) != 2 {
		t.Fatalf("DrainTriggered(20) len = %d, want 2", len(windows))
	}
	if windows[0].Window.Start != 0 || windows[1].Window.Start != 10 {
		t.Errorf("window starts = %d, %d, want 0, 10", windows[0].Window.Start, windows[1].Window.Start)
	}
	if windows[0].Window.SequenceNumber >= windows[1].Window.SequenceNumber {
		t.Errorf("sequence numbers not increasing: %d, %d", windows[0].Window.SequenceNumber, windows[1].Window.SequenceNumber)
	}

	remaining := s.AllNonTriggered()
	if len(remaining) != 1 || remaining[0].ID.Start != 20 {
		t.Errorf("AllNonTriggered() = %+v, want one slice starting at 20", remaining)
	}
}

func TestStore_DrainTriggeredSlidingGroupsSlices(t *testing.T) {
	spec := types.WindowSpec{Kind: types.WindowSliding, SizeMillis: 30, SlideMillis: 10}
	s := NewStore(spec, 2, func(id types.SliceID) any { return 0 }, nil)

	for _, ts := range []int64{1, 11, 21} {
		s.GetOrCreateSlice(ts)
	}

	windows := s.DrainTriggered(30)
	if len(windows) != 1 {
		t.Fatalf("DrainTriggered(30) len = %d, want 1", len(windows))
	}
	if windows[0].Window.Start != 0 || windows[0].Window.End != 30 {
		t.Errorf("window = %+v, want [0,30)", windows[0].Window)
	}
	if len(windows[0].Slices) != 3 {
		t.Errorf("slices in window = %d, want 3", len(windows[0].Slices))
	}
}
