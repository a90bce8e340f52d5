package datatransfer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"ftpd/internal/ratelimit"
)

// Prot mirrors the PROT command's protection level (spec §4.7). Only
// Clear and Private are meaningful here; S and E are accepted for
// compliance but behave like Clear (this module never implements partial
// integrity-only protection).
type Prot int

const (
	ProtClear Prot = iota
	ProtPrivate
)

// Handler owns the lifecycle of a single data connection: the listener
// or dialed socket prepared by PASV/PORT/EPSV/EPRT, optional TLS
// wrapping driven by PROT P, and the Download/Upload call that streams
// over it. One Handler is used per data transfer; a fresh one is built
// for each.
type Handler struct {
	mu       sync.Mutex
	intent   Intent
	listener *net.TCPListener
	dialAddr string
	dialPort int

	tlsConfig *tls.Config
	prot      Prot

	conn net.Conn
}

// NewHandler creates an unconfigured Handler; call PreparePassive or
// PrepareActive before Open.
func NewHandler(tlsConfig *tls.Config) *Handler {
	return &Handler{tlsConfig: tlsConfig}
}

// SetProt records the PROT level negotiated on the control channel.
// Per spec Open Question resolution (see DESIGN.md), the same rule is
// applied uniformly to both active and passive data connections.
func (h *Handler) SetProt(p Prot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prot = p
}

// PreparePassive opens a passive listener and records PASV/EPSV intent.
// Returns the assigned port for the 227/229 reply.
func (h *Handler) PreparePassive(iface string, portRange PassivePortRange) (int, error) {
	ln, err := ListenPassive(iface, portRange)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.closeListenerLocked()
	h.listener = ln
	h.intent = IntentPassive
	h.mu.Unlock()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// PrepareActive records PORT/EPRT intent; the dial happens lazily in
// Open, matching the RFC requirement that the server connects only once
// a transfer command is actually issued.
func (h *Handler) PrepareActive(addr string, port int) {
	h.mu.Lock()
	h.closeListenerLocked()
	h.dialAddr, h.dialPort = addr, port
	h.intent = IntentActive
	h.mu.Unlock()
}

func (h *Handler) closeListenerLocked() {
	if h.listener != nil {
		h.listener.Close()
		h.listener = nil
	}
}

// Open establishes the data connection: accepts on the passive listener
// or dials out for active mode, then wraps in TLS if PROT P is active.
// acceptTimeout bounds how long a passive accept may wait for the
// client to connect (spec §4.4 idle-timeout family).
func (h *Handler) Open(ctx context.Context, acceptTimeout time.Duration) (net.Conn, error) {
	h.mu.Lock()
	intent := h.intent
	ln := h.listener
	addr, port := h.dialAddr, h.dialPort
	prot := h.prot
	tlsConfig := h.tlsConfig
	h.mu.Unlock()

	var raw net.Conn
	var err error
	switch intent {
	case IntentPassive:
		if ln == nil {
			return nil, ErrNoDataConnection
		}
		ln.SetDeadline(time.Now().Add(acceptTimeout))
		raw, err = ln.Accept()
		ln.Close()
	case IntentActive:
		if addr == "" {
			return nil, ErrNoDataConnection
		}
		raw, err = DialActive(addr, port)
	default:
		return nil, ErrNoDataConnection
	}
	if err != nil {
		return nil, fmt.Errorf("datatransfer: open data connection: %w", err)
	}

	if prot == ProtPrivate {
		if tlsConfig == nil {
			raw.Close()
			return nil, fmt.Errorf("datatransfer: PROT P requested with no TLS configuration")
		}
		tconn := tls.Server(raw, tlsConfig)
		if herr := tconn.HandshakeContext(ctx); herr != nil {
			tconn.Close()
			return nil, fmt.Errorf("datatransfer: data TLS handshake: %w", herr)
		}
		raw = tconn
	}

	h.mu.Lock()
	h.conn = raw
	h.mu.Unlock()
	return raw, nil
}

// Close releases any prepared-but-unopened listener and the open
// connection, if any. Safe to call multiple times.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeListenerLocked()
	if h.conn != nil {
		err := h.conn.Close()
		h.conn = nil
		return err
	}
	return nil
}

// RunDownload opens the data connection and streams src over it via
// Download, closing the connection when done.
func (h *Handler) RunDownload(ctx context.Context, acceptTimeout time.Duration, src *os.File, binary bool, restOffset int64, throttle *ratelimit.Limiter, allowSendfile bool, progress func(int64)) (int64, error) {
	conn, err := h.Open(ctx, acceptTimeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return Download(ctx, conn, src, binary, restOffset, throttle, allowSendfile, progress)
}

// RunUpload opens the data connection and streams it into dst via
// Upload, closing the connection when done.
func (h *Handler) RunUpload(ctx context.Context, acceptTimeout time.Duration, dst *os.File, binary bool, throttle *ratelimit.Limiter, progress func(int64)) (int64, error) {
	conn, err := h.Open(ctx, acceptTimeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return Upload(ctx, dst, conn, binary, throttle, progress)
}

// RunList streams a pre-rendered directory listing (LIST/NLST/MLSD
// already formatted to text by the vfs/listing helpers) over the data
// connection, always in ASCII-safe line-oriented form regardless of the
// session's TYPE (spec §4.7: listings are textual independent of TYPE).
func (h *Handler) RunList(ctx context.Context, acceptTimeout time.Duration, body io.Reader) (int64, error) {
	conn, err := h.Open(ctx, acceptTimeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return io.Copy(conn, body)
}
