package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type connState int

const (
	stateInit connState = iota // waiting for a parseable request head
	stateConn                  // upstream connect in flight
	stateSend                  // relaying request bytes to upstream
	stateRecv                  // relaying response bytes to client
	stateDone                  // terminal
)

// conn is one client session and, once routed, its upstream session. It is
// owned by exactly one worker for its whole life; nothing in here is
// synchronized.
type conn struct {
	srv      *Server
	client   int // non-blocking socket
	upstream int // -1 until Init routes and starts the connect
	state    connState
}

func newConn(srv *Server, client int) *conn {
	return &conn{srv: srv, client: client, upstream: -1}
}

// step advances the state machine until it would block or the session is
// over. done means the worker should drop the connection; a non-nil err
// implies done. States only ever move forward.
func (c *conn) step(buf []byte) (done bool, err error) {
	for {
		var again bool
		switch c.state {
		case stateInit:
			again, err = c.init(buf)
		case stateConn:
			again, err = c.awaitConnect()
		case stateSend:
			again, err = c.send(buf)
		case stateRecv:
			again, err = c.recv(buf)
		case stateDone:
			return true, nil
		default:
			return true, errInternal
		}
		if err != nil {
			return true, err
		}
		if !again {
			return false, nil
		}
	}
}

func (c *conn) close() {
	_ = unix.Close(c.client)
	if c.upstream >= 0 {
		_ = unix.Close(c.upstream)
	}
}

const getPrefix = "GET"

// init peeks the request head without consuming it, verifies the GET prefix,
// extracts the Host header, and starts a non-blocking connect to the routed
// target.
func (c *conn) init(buf []byte) (bool, error) {
	n, err := peek(c.client, buf)
	if err != nil {
		if wouldBlock(err) {
			return false, nil
		}
		return false, fmt.Errorf("peek request head: %w", err)
	}

	head := buf[:n]
	if n <= len(getPrefix) || string(head[:len(getPrefix)]) != getPrefix {
		return false, errNotHTTP
	}

	host, ok := hostHeader(head)
	if !ok {
		return false, errParse
	}

	addr, err := c.srv.route(host)
	if err != nil {
		return false, err
	}

	fd, err := dialNonblock(addr)
	if err != nil {
		return false, err
	}
	c.upstream = fd
	c.state = stateConn
	return true, nil
}

// awaitConnect polls the in-flight upstream connect. Once established it
// disables Nagle's algorithm on the upstream socket too.
func (c *conn) awaitConnect() (bool, error) {
	if c.upstream < 0 {
		return false, errInternal
	}

	ok, err := connectDone(c.upstream)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := setNoDelay(c.upstream); err != nil {
		return false, fmt.Errorf("upstream socket: %w", err)
	}
	if c.srv.cfg.KeepAlive.Enable {
		setKeepAlive(c.upstream)
	}
	c.state = stateSend
	return true, nil
}

// send relays request bytes from the client to the upstream. A read that
// does not fill the buffer means the request is drained for now and the
// response phase begins.
func (c *conn) send(buf []byte) (bool, error) {
	n, err := readNB(c.client, buf)
	if err != nil {
		if wouldBlock(err) {
			return false, nil
		}
		return false, fmt.Errorf("read request: %w", err)
	}
	if n == 0 {
		c.state = stateRecv
		return true, nil
	}

	if c.upstream < 0 {
		return false, errInternal
	}
	if err := writeAll(c.upstream, buf[:n]); err != nil {
		return false, fmt.Errorf("relay request: %w", err)
	}

	if n < len(buf) {
		c.state = stateRecv
	}
	return true, nil
}

// recv relays response bytes from the upstream to the client. A client that
// has gone away ends the session immediately; an upstream close means the
// response is complete.
func (c *conn) recv(buf []byte) (bool, error) {
	var probe [1]byte
	n, err := peek(c.client, probe[:])
	if (err == nil && n == 0) || (err != nil && !wouldBlock(err)) {
		c.state = stateDone
		return true, nil
	}

	if c.upstream < 0 {
		return false, errInternal
	}
	n, err = readNB(c.upstream, buf)
	if err != nil {
		if wouldBlock(err) {
			return false, nil
		}
		return false, fmt.Errorf("read response: %w", err)
	}
	if n == 0 {
		c.state = stateDone
		return true, nil
	}

	if err := writeAll(c.client, buf[:n]); err != nil {
		return false, fmt.Errorf("relay response: %w", err)
	}
	return true, nil
}
