package datatransfer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	errSendfileUnsupported = errors.New("datatransfer: sendfile not supported on this platform")
	// ErrNoDataConnection is returned by Handler.Open when a
	// transfer command arrives with no PORT/PASV having been prepared
	// (spec §8.3: such commands reply 425).
	ErrNoDataConnection = errors.New("datatransfer: no data connection prepared")
)

// Intent mirrors spec §3's "data-channel intent" session field.
type Intent int

const (
	IntentNone Intent = iota
	IntentActive
	IntentPassive
)

// PassivePortRange restricts PASV/EPSV listener ports, or is zero-valued
// to mean "kernel-assigned" (spec §4.7).
type PassivePortRange struct {
	From, To int
}

// ListenPassive binds a TCP listener on iface for passive mode, honoring
// portRange when non-zero.
func ListenPassive(iface string, portRange PassivePortRange) (*net.TCPListener, error) {
	if portRange.From == 0 && portRange.To == 0 {
		addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(iface, "0"))
		if err != nil {
			return nil, err
		}
		return net.ListenTCP("tcp", addr)
	}
	var lastErr error
	for port := portRange.From; port <= portRange.To; port++ {
		addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(iface, strconv.Itoa(port)))
		if err != nil {
			return nil, err
		}
		ln, err := net.ListenTCP("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("datatransfer: no free port in range %d-%d: %w", portRange.From, portRange.To, lastErr)
}

// FormatPASVReply renders the "227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)"
// reply body for an IPv4 address and port.
func FormatPASVReply(ip [4]byte, port int) string {
	p1, p2 := port/256, port%256
	return fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d)", ip[0], ip[1], ip[2], ip[3], p1, p2)
}

// FormatEPSVReply renders the "229 (|||port|)" reply body (spec §4.7).
func FormatEPSVReply(port int) string {
	return fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port)
}

// ParsePORT parses a PORT command argument "h1,h2,h3,h4,p1,p2" into an
// address.
func ParsePORT(arg string) (ip string, port int, err error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return "", 0, fmt.Errorf("datatransfer: malformed PORT argument %q", arg)
	}
	ip = strings.Join(parts[0:4], ".")
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		return "", 0, fmt.Errorf("datatransfer: malformed PORT argument %q", arg)
	}
	return ip, p1*256 + p2, nil
}

// ParseEPRT parses an EPRT argument "|proto|addr|port|" (spec §4.7,
// RFC 2428). proto 1 is IPv4, 2 is IPv6.
func ParseEPRT(arg string) (proto int, addr string, port int, err error) {
	if len(arg) < 3 {
		return 0, "", 0, fmt.Errorf("datatransfer: malformed EPRT argument %q", arg)
	}
	delim := arg[0]
	parts := strings.Split(arg[1:len(arg)-1], string(delim))
	if len(parts) != 3 {
		return 0, "", 0, fmt.Errorf("datatransfer: malformed EPRT argument %q", arg)
	}
	proto, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", 0, err
	}
	port, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, "", 0, err
	}
	return proto, parts[1], port, nil
}

// DialActive connects out to a client-supplied address for active-mode
// (PORT/EPRT) transfers.
func DialActive(ip string, port int) (net.Conn, error) {
	return net.Dial("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
}
