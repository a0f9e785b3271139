package sharing

// DialogPath is the signaling state of a session.
type DialogPath struct {
	CallID    string
	LocalTag  string
	RemoteTag string

	// LocalContent and RemoteContent are the negotiation payloads.
	LocalContent  string
	RemoteContent string

	SignalingEstablished bool
	SessionEstablished   bool
	SessionTerminated    bool
}

func (d *DialogPath) establishSignaling() {
	d.SignalingEstablished = true
}

// establishSession implies signaling.
func (d *DialogPath) establishSession() {
	d.SignalingEstablished = true
	d.SessionEstablished = true
}

func (d *DialogPath) terminate() {
	d.SessionTerminated = true
}
