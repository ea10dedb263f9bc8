package iosink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pithecene-io/streamrun/buffer"
)

// StdoutSink writes each buffer's payload to the given writer (normally
// os.Stdout), with no framing beyond the payload bytes themselves.
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdoutSink wraps w as a Sink.
func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: w}
}

func (s *StdoutSink) WriteBuffers(_ context.Context, buffers []*buffer.TupleBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range buffers {
		if _, err := s.w.Write(payloadBytes(b)); err != nil {
			return fmt.Errorf("iosink: stdout write: %w", err)
		}
	}
	return nil
}

func (s *StdoutSink) Close() error { return nil }
