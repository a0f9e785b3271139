package sharing

import (
	"errors"
	"fmt"
)

// Sharing package errors.
var (
	// ErrSessionNotFound is returned when no session matches an id or call id.
	ErrSessionNotFound = errors.New("sharing: session not found")

	// ErrTableFull is returned when the manager holds MaxSessions sessions.
	ErrTableFull = errors.New("sharing: session table full")

	// ErrDuplicateSession is returned when a call id is already in use.
	ErrDuplicateSession = errors.New("sharing: duplicate session")

	// ErrInvalidState is returned when an operation does not fit the session state.
	ErrInvalidState = errors.New("sharing: invalid state")

	// ErrInvalidTransition is returned for an edge outside the state machine.
	ErrInvalidTransition = errors.New("sharing: invalid state transition")

	// ErrNotIncoming is returned by accept and reject on an outgoing session.
	ErrNotIncoming = errors.New("sharing: not an incoming session")

	// ErrAlreadyAnswered is returned when the invitation was already accepted or rejected.
	ErrAlreadyAnswered = errors.New("sharing: invitation already answered")

	// ErrUnsupportedEncoding is returned for content types outside SupportedEncodings.
	ErrUnsupportedEncoding = errors.New("sharing: unsupported encoding")

	// ErrNoContent is returned when a descriptor has no data source.
	ErrNoContent = errors.New("sharing: content has no source")

	// ErrNoAck is the failure when the ACK to our 200 OK never arrives.
	ErrNoAck = errors.New("sharing: no ACK received")

	// ErrSizeMismatch is returned when the received byte count differs from the declared size.
	ErrSizeMismatch = errors.New("sharing: received size differs from declared size")

	// ErrSinkClosed is returned when writing to a committed or discarded sink.
	ErrSinkClosed = errors.New("sharing: sink closed")

	// ErrManagerClosed is returned after Manager.Close.
	ErrManagerClosed = errors.New("sharing: manager closed")
)

// Error is the failure carried by a Failed session.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "sharing: " + e.Code.String()
	}
	return fmt.Sprintf("sharing: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
