package transport

import (
	"fmt"
	"net"
	"strconv"
)

// PeerAddress identifies a stream endpoint by host, port and transport type.
type PeerAddress struct {
	// Host is an IP address or host name.
	Host string
	// Port is the TCP port. Zero asks Listen for an ephemeral port.
	Port int
	// TransportType selects plain TCP or TLS.
	TransportType TransportType
}

// String returns a human-readable representation of the peer address.
func (p PeerAddress) String() string {
	return fmt.Sprintf("%s:%s", p.TransportType, p.HostPort())
}

// HostPort returns the address in host:port form.
func (p PeerAddress) HostPort() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// IsValid returns true if the address can be dialed.
func (p PeerAddress) IsValid() bool {
	return p.TransportType.IsValid() && p.Host != "" && p.Port > 0 && p.Port <= 65535
}

// NewTCPPeerAddress creates a PeerAddress for a plain TCP endpoint.
func NewTCPPeerAddress(host string, port int) PeerAddress {
	return PeerAddress{Host: host, Port: port, TransportType: TransportTypeTCP}
}

// NewTLSPeerAddress creates a PeerAddress for a TLS endpoint.
func NewTLSPeerAddress(host string, port int) PeerAddress {
	return PeerAddress{Host: host, Port: port, TransportType: TransportTypeTLS}
}

// ParsePeerAddress parses a host:port string.
func ParsePeerAddress(hostport string, tt TransportType) (PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return PeerAddress{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, portStr)
	}
	return PeerAddress{Host: host, Port: port, TransportType: tt}, nil
}

// PortOf extracts the port from a listener or connection address.
// It returns 0 when the address carries no port.
func PortOf(addr net.Addr) int {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.Port
	case PipeAddr:
		return a.Port
	case *PipeAddr:
		return a.Port
	}
	if addr == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}
