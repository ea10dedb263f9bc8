package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pithecene-io/streamrun/types"
)

// pipeDialer wires a SendChannel directly to a net.Pipe for in-process
// tests, standing in for a real TCP dial.
func pipeDialer(server net.Conn) Dialer {
	return func(ctx context.Context, ep Endpoint) (Conn, error) {
		return server, nil
	}
}

func TestSendChannel_SendDeliversDataFrame(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	key := types.PartitionKey{QueryID: "q1", OperatorID: "op1"}
	selector := NewEndpointSelector(StrategyRoundRobin)
	selector.RegisterPartition(key, []Endpoint{{ID: "only"}})

	sc := NewSendChannel(key, selector, pipeDialer(clientConn), Config{InitialCredits: 4}, nil, nil)

	rc := NewReceiveChannel(serverConn, func(types.PartitionKey) bool { return true }, Config{}, nil, nil)

	runErr := make(chan error, 1)
	go func() { runErr <- rc.Run(context.Background()) }()

	meta := types.BufferMetadata{OriginID: 1, SequenceNumber: 1, PayloadSize: 3}
	sendErr := make(chan error, 1)
	go func() { sendErr <- sc.Send(context.Background(), meta, []byte{1, 2, 3}) }()

	select {
	case df := <-rc.Inbound:
		if df.Metadata.OriginID != 1 {
			t.Errorf("received origin = %d, want 1", df.Metadata.OriginID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data frame")
	}

	if err := <-sendErr; err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	sc.Close()
	<-runErr
}

func TestSendChannel_CreditGatesSend(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	key := types.PartitionKey{QueryID: "q1"}
	selector := NewEndpointSelector(StrategyRoundRobin)
	selector.RegisterPartition(key, []Endpoint{{ID: "only"}})

	sc := NewSendChannel(key, selector, pipeDialer(clientConn), Config{InitialCredits: 0}, nil, nil)
	// A zero InitialCredits takes the default, so drain the granted
	// credits to leave the channel with none.
	for len(sc.credits) > 0 {
		<-sc.credits
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go func() {
		buf := make([]byte, 64)
		serverConn.Read(buf)
	}()

	err := sc.Send(ctx, types.BufferMetadata{}, []byte{1})
	if err == nil {
		t.Fatal("Send() with zero credits should block until context deadline")
	}
}
