package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed listener or network.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidAddress is returned when an invalid peer address is provided.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrAddressInUse is returned when listening on an address that already has a listener.
	ErrAddressInUse = errors.New("transport: address in use")

	// ErrConnectionRefused is returned when dialing an address nobody listens on.
	ErrConnectionRefused = errors.New("transport: connection refused")

	// ErrUnsupportedTransport is returned for transport types a factory cannot serve.
	ErrUnsupportedTransport = errors.New("transport: unsupported transport type")

	// ErrUnsupportedHash is returned for fingerprint hash functions that are not implemented.
	ErrUnsupportedHash = errors.New("transport: unsupported fingerprint hash")

	// ErrFingerprintMismatch is returned when a peer certificate does not match the negotiated fingerprint.
	ErrFingerprintMismatch = errors.New("transport: certificate fingerprint mismatch")

	// ErrNoPeerCertificate is returned when fingerprint verification finds no peer certificate.
	ErrNoPeerCertificate = errors.New("transport: no peer certificate")
)
