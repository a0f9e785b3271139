package msrp

import "errors"

// Session and framing errors.
var (
	// ErrClosed is returned when the session or manager has been closed.
	ErrClosed = errors.New("msrp: session closed")

	// ErrNotOpen is returned when sending on a session without a connection.
	ErrNotOpen = errors.New("msrp: session not open")

	// ErrAlreadyOpen is returned when attaching a second connection.
	ErrAlreadyOpen = errors.New("msrp: session already open")

	// ErrBusy is returned when a second outbound transfer is started.
	ErrBusy = errors.New("msrp: transfer already in progress")

	// ErrResponseTimeout is reported when a chunk is not acknowledged in time.
	ErrResponseTimeout = errors.New("msrp: response timeout")

	// ErrChunkRejected is reported when the peer answers a chunk with a non-200 status.
	ErrChunkRejected = errors.New("msrp: chunk rejected by peer")

	// ErrShortSource is reported when the payload ends before its declared size.
	ErrShortSource = errors.New("msrp: payload shorter than declared size")

	// ErrMalformed is returned for unparsable frames.
	ErrMalformed = errors.New("msrp: malformed frame")

	// ErrChunkTooLarge is returned for inbound bodies above MaxChunkBodySize.
	ErrChunkTooLarge = errors.New("msrp: chunk body too large")

	// ErrInvalidPath is returned for unparsable MSRP URIs.
	ErrInvalidPath = errors.New("msrp: invalid path")

	// ErrNoSession is returned by Manager operations before a session was created.
	ErrNoSession = errors.New("msrp: no session")

	// ErrOpenTimeout is returned when the connection is not established within the socket timeout.
	ErrOpenTimeout = errors.New("msrp: connection open timeout")

	// ErrBindTimeout is returned when the peer does not bind the connection in time.
	ErrBindTimeout = errors.New("msrp: connection not bound")
)
