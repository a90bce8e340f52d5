package channel

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
)

func TestReadLineStripsTerminator(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() { io.WriteString(client, "USER bob\r\n") }()

	c := New(server)
	line, err := c.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != "USER bob" {
		t.Fatalf("got %q", line)
	}
}

func TestReadLineDiscardsOverlongLine(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server)
	c.SetMaxLineLength(8)
	var discardedLen int
	c.OnOverlongLine = func(n int) { discardedLen = n }

	go func() {
		io.WriteString(client, strings.Repeat("x", 100)+"\r\n")
		io.WriteString(client, "OK\r\n")
	}()

	line, err := c.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != "OK" {
		t.Fatalf("expected the overlong line to be discarded and OK returned, got %q", line)
	}
	if discardedLen == 0 {
		t.Fatal("expected OnOverlongLine to be invoked")
	}
}

func TestWriteLineAppendsTerminator(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server)
	done := make(chan struct{})
	go func() {
		c.WriteLine("220 ready")
		close(done)
	}()

	buf := make([]byte, 32)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if string(buf[:n]) != "220 ready\r\n" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestRunProducerDrainsUntilEOF(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server)
	p := NewSliceProducer([]byte("hello world"))

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 32)
		n, _ := client.Read(buf)
		received <- buf[:n]
	}()

	total, err := c.RunProducer(p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if total != int64(len("hello world")) {
		t.Fatalf("expected total to reflect bytes written, got %d", total)
	}
	if string(<-received) != "hello world" {
		t.Fatal("expected the producer's bytes to reach the peer unchanged")
	}
}

func TestRunProducerClosesProducerOnReturn(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server)
	closed := false
	p := &FuncProducer{
		NextFn:  func() ([]byte, error) { return nil, io.EOF },
		CloseFn: func() error { closed = true; return nil },
	}
	if _, err := c.RunProducer(p, nil); err != nil {
		t.Fatal(err)
	}
	if !closed {
		t.Fatal("expected RunProducer to close the producer")
	}
}

func TestUpgradeHandshakesTLS(t *testing.T) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}

	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientCfg := &tls.Config{InsecureSkipVerify: true}

	c := New(serverRaw)
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Upgrade(serverCfg, true)
		errCh <- err
	}()

	tconn := tls.Client(clientRaw, clientCfg)
	if err := tconn.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server upgrade: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := New(server)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("expected second Close to be a no-op, got %v", err)
	}
}

func TestReaderProducerReportsEOF(t *testing.T) {
	p := NewReaderProducer(strings.NewReader("ab"), 1)
	var got []byte
	for {
		chunk, err := p.Next()
		got = append(got, chunk...)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatal(err)
			}
			break
		}
	}
	if string(got) != "ab" {
		t.Fatalf("got %q", got)
	}
}
