// Package sharing runs content-sharing sessions: one file or buffer pushed
// from an originating endpoint to a terminating one.
//
// A Session negotiates the media endpoint through an offer/answer exchange
// carried by an external signaling layer, opens an MSRP connection in the
// resolved setup role and streams the content. Outgoing and incoming
// sessions share one state machine:
//
//	Created → Ringing → (Rejected | TimedOut | Accepted)
//	Accepted → Establishing → Established → Transferring → (Completed | Aborted | Failed)
//
// Any non-terminal state may also end in Aborted or Failed. Every session
// delivers exactly one terminal listener callback; events that arrive after
// the terminal transition are dropped.
package sharing

// State is the lifecycle state of a Session.
type State int

const (
	StateCreated State = iota
	StateRinging
	StateRejected
	StateTimedOut
	StateAccepted
	StateEstablishing
	StateEstablished
	StateTransferring
	StateCompleted
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRinging:
		return "Ringing"
	case StateRejected:
		return "Rejected"
	case StateTimedOut:
		return "TimedOut"
	case StateAccepted:
		return "Accepted"
	case StateEstablishing:
		return "Establishing"
	case StateEstablished:
		return "Established"
	case StateTransferring:
		return "Transferring"
	case StateCompleted:
		return "Completed"
	case StateAborted:
		return "Aborted"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateRejected, StateTimedOut, StateCompleted, StateAborted, StateFailed:
		return true
	}
	return false
}

var transitions = map[State][]State{
	// Created → Rejected is taken by admission control on invitation.
	StateCreated:      {StateRinging, StateRejected},
	StateRinging:      {StateRejected, StateTimedOut, StateAccepted},
	StateAccepted:     {StateEstablishing},
	StateEstablishing: {StateEstablished},
	StateEstablished:  {StateTransferring},
	StateTransferring: {StateCompleted},
}

// CanTransition reports whether from → to is a valid edge.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateAborted || to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Direction distinguishes originating from terminating sessions.
type Direction int

const (
	// DirectionOutgoing is the originating side: it offers and sends.
	DirectionOutgoing Direction = iota
	// DirectionIncoming is the terminating side: it answers and receives.
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// Reason qualifies Rejected, TimedOut and Aborted outcomes.
type Reason int

const (
	ReasonUnspecified Reason = iota
	ReasonRejectedByUser
	ReasonRejectedByTimeout
	ReasonRejectedByRemote
	ReasonRejectedMaxSize
	ReasonRejectedLowSpace
	ReasonAbortedByUser
	ReasonAbortedByRemote
	ReasonAbortedBySystem
)

func (r Reason) String() string {
	switch r {
	case ReasonRejectedByUser:
		return "rejected by user"
	case ReasonRejectedByTimeout:
		return "rejected by timeout"
	case ReasonRejectedByRemote:
		return "rejected by remote"
	case ReasonRejectedMaxSize:
		return "rejected: too large"
	case ReasonRejectedLowSpace:
		return "rejected: insufficient storage"
	case ReasonAbortedByUser:
		return "aborted by user"
	case ReasonAbortedByRemote:
		return "aborted by remote"
	case ReasonAbortedBySystem:
		return "aborted by system"
	default:
		return "unspecified"
	}
}

// ErrorCode classifies Failed outcomes.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorSessionInitiationFailed
	ErrorMediaTransferFailed
	ErrorUnsupportedMediaType
	ErrorSendResponseFailed
	ErrorUnexpected
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorSessionInitiationFailed:
		return "session initiation failed"
	case ErrorMediaTransferFailed:
		return "media transfer failed"
	case ErrorUnsupportedMediaType:
		return "unsupported media type"
	case ErrorSendResponseFailed:
		return "send response failed"
	case ErrorUnexpected:
		return "unexpected error"
	default:
		return "none"
	}
}

// SIP status codes used by the sessions.
const (
	StatusRinging              = 180
	StatusOK                   = 200
	StatusForbidden            = 403
	StatusRequestTimeout       = 408
	StatusUnsupportedMediaType = 415
	StatusTemporarilyUnavail   = 480
	StatusBusyHere             = 486
	StatusRequestTerminated    = 487
	StatusDecline              = 603
)

// WarningSizeExceeded accompanies the 403 sent by admission control.
const WarningSizeExceeded = `133 Size exceeded`
