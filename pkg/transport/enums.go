// Package transport provides the byte-stream connections that carry chunked
// media transfers and document-sync requests.
//
// Connections are created through a Factory. NetFactory uses real TCP (and
// optionally TLS) sockets; PipeNetwork is an in-memory network with the same
// dial/listen semantics, used by tests and the loopback demo.
package transport

// TransportType identifies the stream transport used by a connection.
type TransportType int

const (
	// TransportTypeUnknown is the zero value for unknown transport.
	TransportTypeUnknown TransportType = iota
	// TransportTypeTCP indicates plain TCP.
	TransportTypeTCP
	// TransportTypeTLS indicates TLS over TCP.
	TransportTypeTLS
)

// Media protocol tags carried in session descriptions.
const (
	ProtocolTCP = "TCP/MSRP"
	ProtocolTLS = "TCP/TLS/MSRP"
)

// String returns the string representation of the transport type.
func (t TransportType) String() string {
	switch t {
	case TransportTypeTCP:
		return "TCP"
	case TransportTypeTLS:
		return "TLS"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the transport type is a known valid type.
func (t TransportType) IsValid() bool {
	return t == TransportTypeTCP || t == TransportTypeTLS
}

// Secured reports whether the transport is encrypted.
func (t TransportType) Secured() bool {
	return t == TransportTypeTLS
}

// Protocol returns the media protocol tag used in session descriptions.
func (t TransportType) Protocol() string {
	if t == TransportTypeTLS {
		return ProtocolTLS
	}
	return ProtocolTCP
}

// TransportTypeFromProtocol maps a media protocol tag back to a transport type.
// Unknown tags yield TransportTypeUnknown.
func TransportTypeFromProtocol(proto string) TransportType {
	switch proto {
	case ProtocolTCP:
		return TransportTypeTCP
	case ProtocolTLS:
		return TransportTypeTLS
	default:
		return TransportTypeUnknown
	}
}
