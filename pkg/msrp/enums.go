// Package msrp implements the chunked transfer session used to move one
// binary payload between two endpoints (RFC 4975 framing).
//
// A Session is bound to one stream connection and carries exactly one
// direction of transfer. Outbound payloads are split into chunks of bounded
// size; every chunk waits for its 200 OK before the next one is sent, so
// progress reports are strictly ordered. Inbound chunks are handed to the
// EventListener one at a time and never buffered as a whole message.
//
// A Manager owns the endpoint side of one media session: it allocates the
// local port, builds the local MSRP path, and opens the Session either by
// dialing (active setup role) or accepting (passive setup role).
package msrp

import "time"

// Framing constants.
const (
	// Protocol is the first token of every start line.
	Protocol = "MSRP"

	// MethodSend carries message content.
	MethodSend = "SEND"
	// MethodReport carries delivery reports.
	MethodReport = "REPORT"

	// endLinePrefix precedes the transaction id in the end line.
	endLinePrefix = "-------"

	crlf = "\r\n"
)

// Header names.
const (
	HeaderToPath        = "To-Path"
	HeaderFromPath      = "From-Path"
	HeaderMessageID     = "Message-ID"
	HeaderByteRange     = "Byte-Range"
	HeaderContentType   = "Content-Type"
	HeaderFailureReport = "Failure-Report"
	HeaderSuccessReport = "Success-Report"
	HeaderStatus        = "Status"
)

// Response status codes.
const (
	StatusOK                 = 200
	StatusBadRequest         = 400
	StatusForbidden          = 403
	StatusRequestTimeout     = 408
	StatusStopSending        = 413
	StatusUnsupportedContent = 415
	StatusSessionNotFound    = 481
)

// Defaults.
const (
	// DefaultChunkSize is the payload size of every outbound chunk except the last.
	DefaultChunkSize = 10000

	// DefaultResponseTimeout bounds the wait for a chunk acknowledgement.
	DefaultResponseTimeout = 30 * time.Second

	// MaxChunkBodySize bounds an inbound chunk body.
	MaxChunkBodySize = 1 << 20

	// maxLineLength bounds start, header and end lines.
	maxLineLength = 8192

	// responseQueueSize bounds responses waiting for the write loop.
	responseQueueSize = 32
)

// Flag is the continuation flag of an end line.
type Flag byte

const (
	// FlagLast marks the final chunk of a message.
	FlagLast Flag = '$'
	// FlagMore marks an intermediate chunk.
	FlagMore Flag = '+'
	// FlagAbort marks a message the sender gave up on.
	FlagAbort Flag = '#'
)

// IsValid returns true if f is one of the three continuation flags.
func (f Flag) IsValid() bool {
	return f == FlagLast || f == FlagMore || f == FlagAbort
}

// State represents the lifecycle of a transfer Session.
type State int

const (
	// StateIdle is a session that has no connection yet.
	StateIdle State = iota
	// StateOpening is a session whose connection is being dialed or accepted.
	StateOpening
	// StateOpen is a session with a live connection.
	StateOpen
	// StateClosed is a session whose connection is gone. Closed is final.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
