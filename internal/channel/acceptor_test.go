package channel

import (
	"net"
	"testing"
)

func TestTCPFDReturnsRawDescriptor(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	fd, ok := TCPFD(ln)
	if !ok {
		t.Fatal("expected a TCP listener to expose a raw fd")
	}
	if fd <= 0 {
		t.Fatalf("expected a positive fd, got %d", fd)
	}
}

func TestRawFDFalseForNonSyscallConn(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	if _, ok := TCPFD(pipeListener{server}); ok {
		t.Fatal("expected a net.Pipe conn to not expose a raw fd")
	}
}

// pipeListener adapts a single net.Conn to net.Listener so TCPFD's type
// assertion path can be exercised against a connection kind (net.Pipe)
// that never implements syscall.Conn.
type pipeListener struct{ net.Conn }

func (pipeListener) Accept() (net.Conn, error) { return nil, net.ErrClosed }
func (p pipeListener) Close() error            { return p.Conn.Close() }
func (p pipeListener) Addr() net.Addr          { return p.Conn.LocalAddr() }
