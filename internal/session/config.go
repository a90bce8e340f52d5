// Package session implements the C7 control-connection handler: the
// per-connection FTP command interpreter, state machine, and reply
// formatting for the full RFC-959/2228/2389/2428/2640/3659 command set.
package session

import (
	"crypto/tls"
	"log/slog"
	"time"

	"ftpd/internal/auth"
	"ftpd/internal/datatransfer"
)

// Config carries every per-server option a Session consults. It is
// built once by the ftpd package's Options and shared read-only across
// sessions.
type Config struct {
	Banner  string
	Logger  *slog.Logger
	Authorizer auth.Authorizer
	SiteAdmin  *auth.SiteAdmin

	IdleTimeout       time.Duration
	AuthFailedTimeout time.Duration
	MaxLoginAttempts  int

	MasqueradeAddress string
	PassiveAddress    string
	PassivePorts      datatransfer.PassivePortRange
	PermitForeignAddresses bool
	PermitPrivilegedPorts  bool

	UseGMTTimes bool
	UseSendfile bool
	TCPNoDelay  bool

	TLSControlRequired bool
	TLSDataRequired    bool
	TLSConfig          *tls.Config

	// Callbacks mirror spec §9's on_connect/on_disconnect/... hook set
	// (SPEC_FULL §1).
	Callbacks Callbacks
}

// Callbacks are optional observers invoked at lifecycle points; a nil
// field is simply skipped.
type Callbacks struct {
	OnConnect             func(remote string)
	OnDisconnect          func(remote string)
	OnLogin               func(user string)
	OnLoginFailed         func(user string)
	OnLogout              func(user string)
	OnFileSent            func(user, path string)
	OnFileReceived        func(user, path string)
	OnIncompleteFileSent  func(user, path string)
	OnIncompleteFileRecvd func(user, path string)
}
