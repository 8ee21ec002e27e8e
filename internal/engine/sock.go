package engine

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// wouldBlock reports whether err is the non-blocking "no data or readiness
// right now" signal rather than a real failure.
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// dupNonblockFD duplicates tc's descriptor, switches the dup to non-blocking
// mode, and disables Nagle's algorithm. The caller owns the returned fd and
// should close tc itself.
func dupNonblockFD(tc *net.TCPConn) (int, error) {
	rc, err := tc.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("raw client socket: %w", err)
	}

	fd := -1
	var dupErr error
	if err := rc.Control(func(raw uintptr) {
		fd, dupErr = unix.Dup(int(raw))
	}); err != nil {
		return -1, fmt.Errorf("raw client socket: %w", err)
	}
	if dupErr != nil {
		return -1, fmt.Errorf("dup client socket: %w", dupErr)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("set nonblocking: %w", err)
	}
	if err := setNoDelay(fd); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func setNoDelay(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("set nodelay: %w", err)
	}
	return nil
}

// dialNonblock starts a non-blocking TCP connect to addr and returns the
// socket. A connect still in flight (EINPROGRESS) is success here; the Conn
// state polls for completion with connectDone.
func dialNonblock(addr netip.AddrPort) (int, error) {
	family := unix.AF_INET6
	if a := addr.Addr(); a.Is4() || a.Is4In6() {
		family = unix.AF_INET
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("upstream socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("set nonblocking: %w", err)
	}

	err = unix.Connect(fd, sockaddr(addr))
	if err != nil && err != unix.EINPROGRESS { //nolint:errorlint // raw errno from unix.Connect
		_ = unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", addr, err)
	}
	return fd, nil
}

func sockaddr(addr netip.AddrPort) unix.Sockaddr {
	if a := addr.Addr(); a.Is4() || a.Is4In6() {
		return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: a.Unmap().As4()}
	}
	return &unix.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
}

// connectDone reports whether the in-flight connect on fd has completed.
// (false, nil) means still in flight; a failed connect is surfaced as the
// pending socket error rather than spinning on ENOTCONN forever.
func connectDone(fd int) (bool, error) {
	_, err := unix.Getpeername(fd)
	if err == nil {
		return true, nil
	}
	if err != unix.ENOTCONN && !wouldBlock(err) { //nolint:errorlint // raw errno from unix.Getpeername
		return false, fmt.Errorf("connect poll: %w", err)
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return false, fmt.Errorf("connect poll: %w", err)
	}
	if soErr != 0 {
		return false, fmt.Errorf("connect: %w", unix.Errno(soErr))
	}
	return false, nil
}

// peek reads up to len(p) bytes without consuming them.
func peek(fd int, p []byte) (int, error) {
	for {
		n, _, err := unix.Recvfrom(fd, p, unix.MSG_PEEK)
		if err == unix.EINTR { //nolint:errorlint // raw errno from unix.Recvfrom
			continue
		}
		return n, err
	}
}

// readNB does a single non-blocking read.
func readNB(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR { //nolint:errorlint // raw errno from unix.Read
			continue
		}
		return n, err
	}
}

// writeAll writes all of p or fails. A write that cannot complete without
// blocking is an error here, not a retry; both relay directions rely on
// this uniformly.
func writeAll(fd int, p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR { //nolint:errorlint // raw errno from unix.Write
			continue
		}
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func setKeepAlive(fd int) {
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
}
