package network

import (
	"context"
	"net"
)

// TCPDialer returns a Dialer that opens a real TCP connection to an
// endpoint's address, for use outside tests (channel_test.go's
// pipeDialer wraps net.Pipe() instead).
func TCPDialer() Dialer {
	var d net.Dialer
	return func(ctx context.Context, ep Endpoint) (Conn, error) {
		return d.DialContext(ctx, "tcp", ep.Addr)
	}
}
