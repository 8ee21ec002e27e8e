package engine

// Package engine implements the splitproxy connection-handling core.
//
// It contains the acceptor/dispatcher, the worker pool that multiplexes many
// client connections per goroutine over raw non-blocking sockets, the
// per-connection state machine driving request sniffing, routing, upstream
// connect, and bidirectional relay, and the routing decision between the
// configured upstream proxy and direct origin connections.
