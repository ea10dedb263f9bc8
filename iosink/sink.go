// Package iosink implements the Sink Driver half of component I: the
// concrete destinations a pipeline's emitted buffers are written to
// (file, stdout, network, S3).
//
// Sink is the same interface shape as the teacher's policy.Sink: batch-
// oriented, ordering-preserving, with an explicit Close. StubSink mirrors
// policy.StubSink for test assertions.
package iosink

import (
	"context"
	"sync"

	"github.com/pithecene-io/streamrun/buffer"
)

// Sink abstracts persistence for the sink driver. Implementations may
// write to a file, stdout, the network transport, or S3.
type Sink interface {
	// WriteBuffers persists a batch of tuple buffers, preserving order
	// within the batch.
	WriteBuffers(ctx context.Context, buffers []*buffer.TupleBuffer) error
	// Close releases any resources held by the sink and flushes any
	// partial state.
	Close() error
}

// StubSink is a test sink that accepts writes without persisting,
// tracking statistics for assertions. Grounded on policy.StubSink.
type StubSink struct {
	mu sync.Mutex

	BatchesWritten int64
	BuffersWritten int64
	Closed         bool

	WrittenPayloads [][]byte

	ErrorOnWrite error
}

// NewStubSink creates a new stub sink for testing.
func NewStubSink() *StubSink {
	return &StubSink{}
}

func (s *StubSink) WriteBuffers(_ context.Context, buffers []*buffer.TupleBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}

	s.BatchesWritten++
	s.BuffersWritten += int64(len(buffers))
	for _, b := range buffers {
		src := payloadBytes(b)
		payload := make([]byte, len(src))
		copy(payload, src)
		s.WrittenPayloads = append(s.WrittenPayloads, payload)
	}
	return nil
}

// payloadBytes returns the meaningful prefix of a buffer's payload: the
// page may be larger than the data it holds, so writers must slice to
// Metadata().PayloadSize rather than writing the whole backing page.
func payloadBytes(b *buffer.TupleBuffer) []byte {
	n := b.Metadata().PayloadSize
	full := b.Payload()
	if n == 0 || int(n) > len(full) {
		return full
	}
	return full[:n]
}

func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Stats is a snapshot of StubSink statistics.
type Stats struct {
	BatchesWritten int64
	BuffersWritten int64
	Closed         bool
}

func (s *StubSink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{BatchesWritten: s.BatchesWritten, BuffersWritten: s.BuffersWritten, Closed: s.Closed}
}
