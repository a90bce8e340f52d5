// Package channel implements the C4 async channel: a buffered socket
// abstraction over blocking net.Conn I/O with a line-delimited reader and a
// producer-chain writer, plus TLS wrapping for both control and data
// connections.
package channel

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// ErrLineTooLong is returned (and the offending line silently discarded,
// per spec §4.4) when an incoming line exceeds MaxLineLength.
var ErrLineTooLong = errors.New("channel: line exceeds maximum length")

// DefaultTerminator is CRLF, the default line terminator for FTP control
// traffic.
const DefaultTerminator = "\r\n"

// DefaultMaxLineLength caps a single incoming control line, guarding
// against memory exhaustion from a client that never sends the
// terminator.
const DefaultMaxLineLength = 8192

// StreamChannel is a line-oriented, producer-driven wrapper around a
// net.Conn. It is the concrete type behind C4: the control-connection
// handler uses ReadLine/WriteLine, the data-connection handler drives it
// with a Producer chain via RunProducer.
//
// A StreamChannel is safe for one reader and one writer goroutine to use
// concurrently (the typical split between the command-read loop and a
// background transfer), but not for concurrent writers.
type StreamChannel struct {
	mu         sync.Mutex
	conn       net.Conn
	reader     *bufio.Reader
	terminator string
	maxLine    int
	closed     bool

	// OnOverlongLine, if set, is called (instead of any client-visible
	// reply) when an incoming line is discarded for exceeding maxLine.
	OnOverlongLine func(discardedPrefix int)
}

// New wraps conn in a StreamChannel using the default CRLF terminator
// and line-length cap.
func New(conn net.Conn) *StreamChannel {
	return &StreamChannel{
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, 4096),
		terminator: DefaultTerminator,
		maxLine:    DefaultMaxLineLength,
	}
}

// Conn returns the current underlying connection (post-TLS-upgrade if
// Upgrade was called).
func (c *StreamChannel) Conn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// SetMaxLineLength overrides the line-length cap.
func (c *StreamChannel) SetMaxLineLength(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxLine = n
}

// ReadLine reads one terminator-delimited line (terminator stripped).
// A line longer than maxLine is discarded in full (no reply is sent to
// the client, matching spec §4.4) and ReadLine retries on the next line
// rather than returning ErrLineTooLong to the caller — callers that need
// to observe the discard for logging should set OnOverlongLine.
func (c *StreamChannel) ReadLine() (string, error) {
	for {
		var line []byte
		total := 0
		for {
			frag, err := c.reader.ReadSlice('\n')
			total += len(frag)
			if total <= c.maxLine {
				line = append(line, frag...)
			}
			if err == bufio.ErrBufferFull {
				continue
			}
			if err != nil {
				return "", err
			}
			break
		}
		if total > c.maxLine {
			if c.OnOverlongLine != nil {
				c.OnOverlongLine(total)
			}
			continue
		}
		return trimTerminator(string(line)), nil
	}
}

func trimTerminator(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

// WriteLine writes s followed by the configured terminator.
func (c *StreamChannel) WriteLine(s string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	_, err := io.WriteString(conn, s+c.terminator)
	return err
}

// Write writes raw bytes with no terminator handling, used by the data
// connection path.
func (c *StreamChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn.Write(p)
}

// Read reads raw bytes, bypassing the line reader's buffer boundary;
// only safe to call once no more ReadLine calls are expected (e.g. after
// the control handler has handed a channel over to raw passthrough).
func (c *StreamChannel) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

// SetDeadline, SetReadDeadline, SetWriteDeadline proxy to the underlying
// conn; used for idle timeouts and stall detection when a reactor
// Scheduler timer closes the channel instead of driving reads directly.
func (c *StreamChannel) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }
func (c *StreamChannel) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
func (c *StreamChannel) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// RunProducer drains p into the channel until EOF or error, honoring an
// optional pace function called between chunks (bandwidth throttling
// hook, spec §4.8): pace returns a duration to wait before the next
// chunk is sent (0 for no delay). RunProducer always closes p.
func (c *StreamChannel) RunProducer(p Producer, pace func(n int) time.Duration) (int64, error) {
	defer p.Close()
	var total int64
	for {
		chunk, err := p.Next()
		if len(chunk) > 0 {
			n, werr := c.Write(chunk)
			total += int64(n)
			if werr != nil {
				return total, werr
			}
			if pace != nil {
				if d := pace(n); d > 0 {
					time.Sleep(d)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// Upgrade wraps the channel's underlying connection in TLS, replacing
// the reader/writer with ones layered on the TLS conn, matching spec
// §4.4's "any channel may be upgraded" requirement. asServer selects
// tls.Server vs tls.Client (the latter only used by test tooling driving
// the server as a client).
func (c *StreamChannel) Upgrade(cfg *tls.Config, asServer bool) (*tls.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var tconn *tls.Conn
	if asServer {
		tconn = tls.Server(c.conn, cfg)
	} else {
		tconn = tls.Client(c.conn, cfg)
	}
	if err := tconn.Handshake(); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	c.conn = tconn
	c.reader = bufio.NewReaderSize(tconn, 4096)
	return tconn, nil
}

// CloseTLS sends a close-notify alert, retrying at most three times
// (spec §4.4: "avoid CPU loops observed in practice"). It does not wait
// for or read the peer's close-notify.
func CloseTLS(tconn *tls.Conn) {
	const maxAttempts = 3
	for i := 0; i < maxAttempts; i++ {
		_ = tconn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if err := tconn.CloseWrite(); err == nil {
			break
		}
	}
}

// Close closes the underlying connection. Idempotent.
func (c *StreamChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if tc, ok := c.conn.(*tls.Conn); ok {
		CloseTLS(tc)
	}
	return c.conn.Close()
}
