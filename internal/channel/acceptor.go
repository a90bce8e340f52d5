package channel

import (
	"net"
	"syscall"
)

// RawFD extracts the raw file descriptor behind a net.Conn or
// net.Listener that exposes SyscallConn, for registration with a
// reactor.Poller. Returns ok=false for connection kinds that don't
// expose one (e.g. in-memory pipes used by tests).
func RawFD(sc syscall.Conn) (fd int, ok bool) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var rawfd int
	cerr := raw.Control(func(f uintptr) { rawfd = int(f) })
	if cerr != nil {
		return 0, false
	}
	return rawfd, true
}

// TCPFD is a convenience for the common case of a *net.TCPListener or
// *net.TCPConn.
func TCPFD(l net.Listener) (int, bool) {
	sc, ok := l.(syscall.Conn)
	if !ok {
		return 0, false
	}
	return RawFD(sc)
}
