package sharing

import "context"

// Invitation is an INVITE carrying an offer.
type Invitation struct {
	CallID string
	// From is the inviting party, To the invited one.
	From string
	To   string
	// FromTag is the inviting party's dialog tag.
	FromTag string

	ContentType string
	Body        []byte
}

// Response is a final or provisional answer to an INVITE.
type Response struct {
	StatusCode int
	Reason     string
	// Warning is the value of a Warning header, if any.
	Warning string
	// ToTag is the answering party's dialog tag.
	ToTag string

	ContentType string
	Body        []byte
}

// Signaling sends the SIP messages of a session. Implementations deliver
// inbound messages back through Manager.HandleResponse, HandleAck,
// HandleCancel and HandleBye.
type Signaling interface {
	SendInvite(ctx context.Context, inv *Invitation) error
	SendResponse(ctx context.Context, callID string, resp *Response) error
	SendAck(ctx context.Context, callID string) error
	SendCancel(ctx context.Context, callID string) error
	SendBye(ctx context.Context, callID string) error
}

// Capabilities answers feature questions about remote contacts.
type Capabilities interface {
	// IsThumbnailSupported reports whether contact accepts an embedded preview.
	IsThumbnailSupported(contact string) bool
	// RequestCapabilities refreshes what is known about contact.
	RequestCapabilities(ctx context.Context, contact string) error
}

// Limits feed admission control of incoming sessions.
type Limits interface {
	// MaxTransferSize is the largest accepted payload, 0 for unlimited.
	MaxTransferSize() int64
	// FreeStorage is the free space for received content, 0 when unknown.
	FreeStorage() int64
}

// StaticLimits are fixed Limits.
type StaticLimits struct {
	MaxSize int64
	Free    int64
}

func (l StaticLimits) MaxTransferSize() int64 { return l.MaxSize }
func (l StaticLimits) FreeStorage() int64     { return l.Free }

// admit applies admission control to a declared size. Too large takes
// precedence over insufficient storage. Unknown sizes are admitted.
func admit(size int64, limits Limits) Reason {
	if limits == nil || size < 0 {
		return ReasonUnspecified
	}
	if max := limits.MaxTransferSize(); max > 0 && size > max {
		return ReasonRejectedMaxSize
	}
	if free := limits.FreeStorage(); free > 0 && size > free {
		return ReasonRejectedLowSpace
	}
	return ReasonUnspecified
}

var (
	_ Limits = StaticLimits{}
)
