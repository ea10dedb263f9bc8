package iosrc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pithecene-io/streamrun/buffer"
	"github.com/pithecene-io/streamrun/pipeline"
	"github.com/pithecene-io/streamrun/types"
)

func newTestDriver(t *testing.T, skipOnCodecError bool) (*Driver, *pipeline.ExecutionContext, *[][]byte) {
	t.Helper()
	mgr, err := buffer.NewManager(buffer.Config{PageSize: 64, NumPages: 8})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	sub, err := mgr.CreateSubPool(4)
	if err != nil {
		t.Fatalf("CreateSubPool() error = %v", err)
	}

	var received [][]byte
	downstream := func(b *buffer.TupleBuffer) error {
		n := b.Metadata().PayloadSize
		cp := make([]byte, n)
		copy(cp, b.Payload()[:n])
		received = append(received, cp)
		b.Release()
		return nil
	}

	ctx := pipeline.New(pipeline.Config{
		ID:           types.PipelineID("p1"),
		BufferMgr:    mgr,
		Continuation: pipeline.ContinuationPossible,
		Downstream:   downstream,
	})
	if err := ctx.Transition(pipeline.Open); err != nil {
		t.Fatalf("Transition(Open) error = %v", err)
	}
	if err := ctx.Transition(pipeline.Running); err != nil {
		t.Fatalf("Transition(Running) error = %v", err)
	}

	d := NewDriver(Config{
		LogicalName:      "test-source",
		Kind:             SourceMemory,
		Origin:           types.OriginID(1),
		Parser:           NewFixedWidthParser(24),
		SkipOnCodecError: skipOnCodecError,
		SubPool:          sub,
		Ctx:              ctx,
		AcquireTimeout:   50 * time.Millisecond,
	})
	return d, ctx, &received
}

func sliceFetcher(chunks [][]byte) Fetcher {
	i := 0
	return func(ctx context.Context) ([]byte, error) {
		if i >= len(chunks) {
			return nil, io.EOF
		}
		c := chunks[i]
		i++
		return c, nil
	}
}

func TestDriver_EmitsRecordsFromEachChunk(t *testing.T) {
	d, _, received := newTestDriver(t, false)

	chunks := [][]byte{
		Uint64KeyValueRecord(1, 100, 1),
		append(Uint64KeyValueRecord(2, 200, 2), Uint64KeyValueRecord(3, 300, 3)...),
	}

	if err := d.Run(context.Background(), sliceFetcher(chunks)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(*received) != 3 {
		t.Fatalf("received %d records, want 3", len(*received))
	}
	key := binary.LittleEndian.Uint64((*received)[0][0:8])
	if key != 1 {
		t.Errorf("first record key = %d, want 1", key)
	}
	key2 := binary.LittleEndian.Uint64((*received)[2][0:8])
	if key2 != 3 {
		t.Errorf("third record key = %d, want 3", key2)
	}
}

func TestDriver_StopsCleanlyOnEOF(t *testing.T) {
	d, _, _ := newTestDriver(t, false)
	err := d.Run(context.Background(), sliceFetcher(nil))
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on immediate EOF", err)
	}
}

func TestDriver_CodecErrorFailsBatchByDefault(t *testing.T) {
	d, _, _ := newTestDriver(t, false)
	chunks := [][]byte{{0x01, 0x02, 0x03}} // not a multiple of 24
	err := d.Run(context.Background(), sliceFetcher(chunks))
	if err == nil {
		t.Fatal("Run() error = nil, want codec error")
	}
	var srcErr *Error
	if !errors.As(err, &srcErr) {
		t.Fatalf("Run() error type = %T, want *iosrc.Error", err)
	}
}

func TestDriver_CodecErrorSkippedWhenConfigured(t *testing.T) {
	d, _, received := newTestDriver(t, true)
	chunks := [][]byte{
		{0x01, 0x02, 0x03},
		Uint64KeyValueRecord(9, 90, 9),
	}
	if err := d.Run(context.Background(), sliceFetcher(chunks)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(*received) != 1 {
		t.Fatalf("received %d records, want 1 (bad chunk skipped)", len(*received))
	}
}

func TestDriver_ContextCancellationStopsRun(t *testing.T) {
	d, _, _ := newTestDriver(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx, sliceFetcher([][]byte{Uint64KeyValueRecord(1, 1, 1)}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestCSVParser_ParsesRowsWithCodec(t *testing.T) {
	codec := func(fields []string) ([]byte, error) {
		if len(fields) != 2 {
			return nil, errors.New("want 2 fields")
		}
		return Uint64KeyValueRecord(1, 2, 3), nil
	}
	p := NewCSVParser(24, codec)
	raw := []byte("a,b\nc,d\n")
	records, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if !bytes.Equal(records[0], records[1]) {
		t.Error("expected identical encoded records for this codec")
	}
}

func TestNewGeneratorFetcher_CountsUpSequence(t *testing.T) {
	fetch := NewGeneratorFetcher(func(seq int64) []byte {
		return Uint64KeyValueRecord(uint64(seq), 0, 0)
	})
	first, err := fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	second, err := fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if binary.LittleEndian.Uint64(first[0:8]) != 0 {
		t.Error("first generated record should have seq 0")
	}
	if binary.LittleEndian.Uint64(second[0:8]) != 1 {
		t.Error("second generated record should have seq 1")
	}
}

func TestNewPacedGeneratorFetcher_WaitsBetweenRecords(t *testing.T) {
	fetch := NewPacedGeneratorFetcher(func(seq int64) []byte {
		return Uint64KeyValueRecord(uint64(seq), 0, 0)
	}, 10*time.Millisecond)

	start := time.Now()
	if _, err := fetch(context.Background()); err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if _, err := fetch(context.Background()); err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("two paced fetches took %s, want >= 10ms", elapsed)
	}
}

func TestNewPacedGeneratorFetcher_StopsOnCancellation(t *testing.T) {
	fetch := NewPacedGeneratorFetcher(func(seq int64) []byte {
		return Uint64KeyValueRecord(uint64(seq), 0, 0)
	}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("fetch() error = %v, want context.Canceled", err)
	}
}
