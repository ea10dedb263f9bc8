package iosink

import (
	"context"
	"fmt"

	"github.com/pithecene-io/streamrun/buffer"
	"github.com/pithecene-io/streamrun/network"
)

// NetworkSink hands each buffer to a network.SendChannel, addressed to a
// single fixed partition (component H). A source/sink running on a
// worker with several output partitions owns one NetworkSink per
// partition.
type NetworkSink struct {
	ch *network.SendChannel
}

// NewNetworkSink wraps an already-constructed SendChannel as a Sink.
func NewNetworkSink(ch *network.SendChannel) *NetworkSink {
	return &NetworkSink{ch: ch}
}

func (s *NetworkSink) WriteBuffers(ctx context.Context, buffers []*buffer.TupleBuffer) error {
	for _, b := range buffers {
		if err := s.ch.Send(ctx, *b.Metadata(), payloadBytes(b)); err != nil {
			return fmt.Errorf("iosink: network send: %w", err)
		}
	}
	return nil
}

func (s *NetworkSink) Close() error {
	return s.ch.Close()
}
