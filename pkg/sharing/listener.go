package sharing

// Listener receives session lifecycle events.
//
// Events of one session are delivered in order on a dedicated goroutine.
// A listener may call back into the session, for example AcceptInvitation
// from OnInvited or AbortSession from OnProgress.
type Listener interface {
	OnInvited(s *Session)
	OnRinging(s *Session)
	OnStarted(s *Session)
	OnProgress(s *Session, current, total int64)

	// Terminal events. Exactly one is delivered per session.
	OnAborted(s *Session, reason Reason)
	OnError(s *Session, code ErrorCode, message string)
	OnCompleted(s *Session, locator string)
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Invited   func(s *Session)
	Ringing   func(s *Session)
	Started   func(s *Session)
	Progress  func(s *Session, current, total int64)
	Aborted   func(s *Session, reason Reason)
	Error     func(s *Session, code ErrorCode, message string)
	Completed func(s *Session, locator string)
}

func (f ListenerFuncs) OnInvited(s *Session) {
	if f.Invited != nil {
		f.Invited(s)
	}
}

func (f ListenerFuncs) OnRinging(s *Session) {
	if f.Ringing != nil {
		f.Ringing(s)
	}
}

func (f ListenerFuncs) OnStarted(s *Session) {
	if f.Started != nil {
		f.Started(s)
	}
}

func (f ListenerFuncs) OnProgress(s *Session, current, total int64) {
	if f.Progress != nil {
		f.Progress(s, current, total)
	}
}

func (f ListenerFuncs) OnAborted(s *Session, reason Reason) {
	if f.Aborted != nil {
		f.Aborted(s, reason)
	}
}

func (f ListenerFuncs) OnError(s *Session, code ErrorCode, message string) {
	if f.Error != nil {
		f.Error(s, code, message)
	}
}

func (f ListenerFuncs) OnCompleted(s *Session, locator string) {
	if f.Completed != nil {
		f.Completed(s, locator)
	}
}

var _ Listener = ListenerFuncs{}
