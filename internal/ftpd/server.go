package ftpd

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/errwrap"
	"github.com/hashicorp/go-multierror"

	"ftpd/internal/reactor"
	"ftpd/internal/session"
)

// Server is the C9 acceptor: it owns the listening socket, per-IP and
// global connection admission, and dispatches accepted connections
// according to the configured ConcurrencyModel.
type Server struct {
	opts *Options
	log  *slog.Logger

	listener  net.Listener
	reactor   *reactor.Reactor
	tlsConfig *tls.Config

	mu          sync.Mutex
	connsTotal  int
	connsPerIP  map[string]int
	sessionWG   sync.WaitGroup
	stopping    bool
}

// New builds a Server from the given options, applying opts over
// DefaultOptions(). An Authorizer must be supplied via WithAuthorizer.
func New(opts ...Option) (*Server, error) {
	o := DefaultOptions()
	o.apply(opts)
	if o.Authorizer == nil {
		return nil, fmt.Errorf("ftpd: WithAuthorizer is required")
	}
	tlsConfig, err := o.tlsConfig()
	if err != nil {
		return nil, fmt.Errorf("ftpd: loading TLS credentials: %w", err)
	}
	if (o.TLSControlRequired || o.TLSDataRequired) && tlsConfig == nil {
		return nil, fmt.Errorf("ftpd: TLS required but no certificate configured")
	}

	r, err := reactor.New(reactor.MaxFDHint(o.MaxConnections+16), o.Logger)
	if err != nil {
		return nil, fmt.Errorf("ftpd: creating reactor: %w", err)
	}

	return &Server{
		opts:       o,
		log:        o.Logger,
		reactor:    r,
		tlsConfig:  tlsConfig,
		connsPerIP: make(map[string]int),
	}, nil
}

// sessionConfig builds the per-session Config shared read-only by every
// Session this server spawns.
func (s *Server) sessionConfig() *session.Config {
	return &session.Config{
		Banner:                 s.opts.Banner,
		Logger:                 s.log,
		Authorizer:             s.opts.Authorizer,
		SiteAdmin:              s.opts.SiteAdmin,
		IdleTimeout:            s.opts.IdleTimeout,
		AuthFailedTimeout:      s.opts.AuthFailedTimeout,
		MaxLoginAttempts:       s.opts.MaxLoginAttempts,
		MasqueradeAddress:      s.opts.MasqueradeAddress,
		PassiveAddress:         s.opts.PassiveAddress,
		PassivePorts:           s.opts.PassivePorts,
		PermitForeignAddresses: s.opts.PermitForeignAddresses,
		PermitPrivilegedPorts:  s.opts.PermitPrivilegedPorts,
		UseGMTTimes:            s.opts.UseGMTTimes,
		UseSendfile:            s.opts.UseSendfile,
		TCPNoDelay:             s.opts.TCPNoDelay,
		TLSControlRequired:     s.opts.TLSControlRequired,
		TLSDataRequired:        s.opts.TLSDataRequired,
		TLSConfig:              s.tlsConfig,
		Callbacks:              s.opts.Callbacks,
	}
}

// ListenAndServe binds the listening socket and runs the acceptor loop
// until ctx is cancelled, dispatching each accepted connection per the
// configured ConcurrencyModel. It blocks until Shutdown completes.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("ftpd: listen %s: %w", s.opts.Addr, err)
	}

	if s.opts.Model == ModelPreFork {
		return s.runPreFork(ctx, ln)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener runs the accept loop against an already-bound listener
// until ctx is cancelled. It is exported so a pre-fork worker process
// (which inherits its listening socket's fd rather than binding one
// itself) can reuse the same admission and dispatch logic as the
// top-level process.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.listener = ln
	s.log.Info("ftpd listening", "addr", ln.Addr().String(), "model", s.opts.Model)

	go s.reactor.Run()

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if stopping {
				return nil
			}
			s.log.Error("accept failed", "err", err)
			continue
		}
		if !s.admit(conn) {
			conn.Close()
			continue
		}
		s.dispatch(conn)
	}
}

// runPreFork re-execs the running binary PreForkWorkers times, passing
// ln's file descriptor to each child via ExtraFiles so every worker
// calls accept(2) on the same socket independently — the pre-fork
// pattern spec §4.9 names, adapted to Go's lack of fork() the same way
// runInSubprocess adapts ModelProcessPerConnection.
func (s *Server) runPreFork(ctx context.Context, ln net.Listener) error {
	tln, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("ftpd: pre-fork model requires a TCP listener")
	}
	f, err := tln.File()
	if err != nil {
		return fmt.Errorf("ftpd: duplicating listener fd: %w", err)
	}
	defer f.Close()
	ln.Close()

	workers := s.opts.PreForkWorkers
	if workers < 1 {
		workers = 1
	}
	cmds := make([]*exec.Cmd, 0, workers)
	for i := 0; i < workers; i++ {
		cmd := exec.Command(os.Args[0], "--ftpd-subprocess-worker")
		cmd.ExtraFiles = []*os.File{f}
		cmd.Env = append(os.Environ(), "FTPD_PREFORK_LISTENER_FD=3")
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
		if err := cmd.Start(); err != nil {
			s.log.Error("starting pre-fork worker", "err", err)
			continue
		}
		cmds = append(cmds, cmd)
	}

	<-ctx.Done()
	var result *multierror.Error
	for _, cmd := range cmds {
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// admit enforces max_cons and max_cons_per_ip (spec §4.9).
func (s *Server) admit(conn net.Conn) bool {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.MaxConnections > 0 && s.connsTotal >= s.opts.MaxConnections {
		return false
	}
	if s.opts.MaxConnectionsPerIP > 0 && s.connsPerIP[host] >= s.opts.MaxConnectionsPerIP {
		return false
	}
	s.connsTotal++
	s.connsPerIP[host]++
	return true
}

func (s *Server) release(conn net.Conn) {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	s.mu.Lock()
	s.connsTotal--
	s.connsPerIP[host]--
	if s.connsPerIP[host] <= 0 {
		delete(s.connsPerIP, host)
	}
	s.mu.Unlock()
}

// dispatch hands conn off according to the configured concurrency
// model. Go has no fork(); ModelProcessPerConnection and ModelPreFork
// are implemented by re-executing the running binary with the
// connection's (or listener's) file descriptor inherited via
// ExtraFiles, rather than a real process fork — see DESIGN.md.
func (s *Server) dispatch(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok && s.opts.TCPNoDelay {
		_ = tc.SetNoDelay(true)
	}
	switch s.opts.Model {
	case ModelProcessPerConnection:
		s.sessionWG.Add(1)
		go s.runInSubprocess(conn)
	default:
		// ModelAsync and ModelThreadPerConnection both serve the
		// connection on a goroutine; they are distinguished only for
		// Authorizer compatibility (spec §4.9, §4.6).
		s.sessionWG.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.sessionWG.Done()
	defer s.release(conn)
	sess := session.New(s.sessionConfig(), conn, s.reactor)
	sess.Serve()
}

// runInSubprocess re-execs os.Args[0] with the connection's duplicated
// file descriptor passed via ExtraFiles and an environment marker the
// child's main() checks for (see cmd/ftpd's subprocess entry point).
// This gives OS-level isolation per connection at the cost of one
// process spawn per client.
func (s *Server) runInSubprocess(conn net.Conn) {
	defer s.sessionWG.Done()
	defer s.release(conn)

	tc, ok := conn.(*net.TCPConn)
	if !ok {
		s.log.Error("process-per-connection model requires a TCP connection")
		conn.Close()
		return
	}
	f, err := tc.File()
	if err != nil {
		s.log.Error("duplicating connection fd for subprocess", "err", err)
		conn.Close()
		return
	}
	defer f.Close()
	conn.Close() // the duplicated fd in f keeps the socket alive

	cmd := exec.Command(os.Args[0], "--ftpd-subprocess-worker")
	cmd.ExtraFiles = []*os.File{f}
	cmd.Env = append(os.Environ(), "FTPD_SUBPROCESS_FD=3")
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		s.log.Error("subprocess worker exited with error",
			"err", errwrap.Wrapf("ftpd: subprocess worker: {{err}}", err))
	}
}

// Shutdown stops accepting new connections, closes the listener, waits
// up to a bounded grace period for in-flight sessions to finish, then
// returns. Errors from each stage are aggregated rather than masked.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	var result *multierror.Error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing listener: %w", err))
		}
	}

	s.reactor.CloseAll()
	s.reactor.Stop()

	done := make(chan struct{})
	go func() {
		s.sessionWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		result = multierror.Append(result, fmt.Errorf("sessions did not drain within grace period"))
	}

	return result.ErrorOrNil()
}
