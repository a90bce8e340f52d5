// Package ftpd implements the C9 server/acceptor: connection admission
// (max_cons, max_cons_per_ip), the four concurrency models (async,
// thread-per-connection, process-per-connection, pre-fork), and the
// functional-options configuration surface.
package ftpd

import (
	"crypto/tls"
	"log/slog"
	"time"

	"ftpd/internal/auth"
	"ftpd/internal/datatransfer"
	"ftpd/internal/session"
)

// ConcurrencyModel selects how the acceptor dispatches accepted
// connections (spec §4.9).
type ConcurrencyModel int

const (
	// ModelAsync serves every session as a goroutine sharing one
	// process-wide reactor for timers, matching this module's hybrid
	// reactor design.
	ModelAsync ConcurrencyModel = iota
	// ModelThreadPerConnection is behaviorally identical to ModelAsync in
	// Go (goroutines already are the "thread"): kept as a distinct,
	// user-selectable name because spec §4.9 names it as a first-class
	// option, and because a real-user Authorizer must refuse to run
	// under this model.
	ModelThreadPerConnection
	// ModelProcessPerConnection re-execs the running binary once per
	// accepted connection, passing the connection's file descriptor via
	// ExtraFiles, for workloads that want OS-level isolation between
	// sessions at the cost of process-spawn overhead per connection.
	ModelProcessPerConnection
	// ModelPreFork starts a fixed pool of worker processes up front via
	// re-exec, each holding its own reactor and accepting from a shared
	// listening socket (SO_REUSEPORT-style fan-out), amortizing the
	// process-spawn cost ModelProcessPerConnection pays per connection.
	ModelPreFork
)

// Options is the functional-options configuration surface (spec §6/§9).
type Options struct {
	Addr string

	Banner            string
	IdleTimeout       time.Duration
	AuthFailedTimeout time.Duration
	MaxLoginAttempts  int

	MaxConnections      int
	MaxConnectionsPerIP int

	PassiveAddress         string
	PassivePorts           datatransfer.PassivePortRange
	MasqueradeAddress      string
	PermitForeignAddresses bool
	PermitPrivilegedPorts  bool

	UseGMTTimes bool
	UseSendfile bool
	TCPNoDelay  bool
	Encoding    string

	TLSControlRequired bool
	TLSDataRequired    bool
	CertFile, KeyFile  string
	SSLProtocolMin     uint16

	Model ConcurrencyModel
	// PreForkWorkers is the worker-process count under ModelPreFork.
	PreForkWorkers int

	Authorizer auth.Authorizer
	SiteAdmin  *auth.SiteAdmin
	Logger     *slog.Logger
	Callbacks  session.Callbacks
}

// Option mutates an Options value, following the teacher's
// functional-options idiom.
type Option func(*Options)

// DefaultOptions returns the option set a bare server would run with.
func DefaultOptions() *Options {
	return &Options{
		Addr:              ":2121",
		Banner:            "pyftpdlib-style ftpd ready",
		IdleTimeout:       5 * time.Minute,
		AuthFailedTimeout: 3 * time.Second,
		MaxLoginAttempts:  3,
		MaxConnections:    256,
		Model:             ModelAsync,
		PreForkWorkers:    4,
		Logger:            slog.Default(),
	}
}

func WithAddr(addr string) Option { return func(o *Options) { o.Addr = addr } }
func WithBanner(b string) Option  { return func(o *Options) { o.Banner = b } }
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) { o.IdleTimeout = d }
}
func WithAuthFailedTimeout(d time.Duration) Option {
	return func(o *Options) { o.AuthFailedTimeout = d }
}
func WithMaxLoginAttempts(n int) Option { return func(o *Options) { o.MaxLoginAttempts = n } }
func WithMaxConnections(n int) Option   { return func(o *Options) { o.MaxConnections = n } }
func WithMaxConnectionsPerIP(n int) Option {
	return func(o *Options) { o.MaxConnectionsPerIP = n }
}
func WithPassiveAddress(a string) Option { return func(o *Options) { o.PassiveAddress = a } }
func WithPassivePorts(from, to int) Option {
	return func(o *Options) { o.PassivePorts = datatransfer.PassivePortRange{From: from, To: to} }
}
func WithMasqueradeAddress(a string) Option {
	return func(o *Options) { o.MasqueradeAddress = a }
}
func WithPermitForeignAddresses(b bool) Option {
	return func(o *Options) { o.PermitForeignAddresses = b }
}
func WithPermitPrivilegedPorts(b bool) Option {
	return func(o *Options) { o.PermitPrivilegedPorts = b }
}
func WithUseGMTTimes(b bool) Option { return func(o *Options) { o.UseGMTTimes = b } }
func WithUseSendfile(b bool) Option { return func(o *Options) { o.UseSendfile = b } }
func WithTCPNoDelay(b bool) Option  { return func(o *Options) { o.TCPNoDelay = b } }
func WithEncoding(e string) Option  { return func(o *Options) { o.Encoding = e } }
func WithTLS(certFile, keyFile string, controlRequired, dataRequired bool) Option {
	return func(o *Options) {
		o.CertFile, o.KeyFile = certFile, keyFile
		o.TLSControlRequired, o.TLSDataRequired = controlRequired, dataRequired
	}
}
func WithConcurrencyModel(m ConcurrencyModel) Option {
	return func(o *Options) { o.Model = m }
}
func WithPreForkWorkers(n int) Option { return func(o *Options) { o.PreForkWorkers = n } }
func WithAuthorizer(a auth.Authorizer) Option {
	return func(o *Options) { o.Authorizer = a }
}
func WithSiteAdmin(s *auth.SiteAdmin) Option { return func(o *Options) { o.SiteAdmin = s } }
func WithLogger(l *slog.Logger) Option       { return func(o *Options) { o.Logger = l } }
func WithCallbacks(c session.Callbacks) Option {
	return func(o *Options) { o.Callbacks = c }
}

func (o *Options) apply(opts []Option) {
	for _, opt := range opts {
		opt(o)
	}
}

func (o *Options) tlsConfig() (*tls.Config, error) {
	if o.CertFile == "" || o.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
	if err != nil {
		return nil, err
	}
	minVersion := o.SSLProtocolMin
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: minVersion}, nil
}
