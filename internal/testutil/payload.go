package testutil

import (
	"context"
	"net"
	"testing"
)

// StartPayloadServer starts a TCP server that accepts one connection, reads
// the request head, writes n deterministic payload bytes, and closes. It
// stands in for an origin (or upstream proxy) whose response size the test
// controls exactly.
func StartPayloadServer(t *testing.T, ctx context.Context, n int) net.Listener {
	t.Helper()

	ln, _ := StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		buf := make([]byte, 4096)
		if _, err := c.Read(buf); err != nil {
			return
		}
		if n > 0 {
			_, _ = c.Write(Pattern(n))
		}
	})

	return ln
}

// Pattern returns n bytes of a position-dependent pattern, so truncated or
// reordered relays fail comparison.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}
