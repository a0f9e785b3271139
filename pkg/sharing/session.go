package sharing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/backkem/rcs/pkg/msrp"
	"github.com/backkem/rcs/pkg/negotiation"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Session is one content-sharing session. Its protocol steps run on a
// dedicated goroutine; the exported methods are safe for concurrent use.
type Session struct {
	id         string
	direction  Direction
	remote     string
	transferID string
	content    *ContentDescriptor
	thumbnail  *ThumbnailDescriptor
	config     *Config
	log        logging.LeveledLogger
	onTerminal func(*Session)

	// Incoming only.
	offer    *negotiation.Result
	offerErr error

	// ctx is cancelled on the terminal transition and unblocks waits.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	history    []State
	reason     Reason
	errCode    ErrorCode
	errMsg     string
	locator    string
	dialog     DialogPath
	listeners  []Listener
	media      *msrp.Manager
	writer     SinkWriter
	received   int64
	stored     int64
	inviteSent bool
	answered   bool

	// Event dispatch.
	events       []event
	eventsClosed bool
	wake         chan struct{}
	done         chan struct{}
	// stopped is closed when the session goroutine returns.
	stopped chan struct{}

	answerCh   chan bool
	responseCh chan *Response
	ackCh      chan struct{}
	mediaCh    chan error
}

type event struct {
	listeners []Listener
	fn        func(Listener)
}

func newSession(config *Config, dir Direction, callID, remote string, content *ContentDescriptor) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString(),
		direction:  dir,
		remote:     remote,
		transferID: msrp.NewTransactionID(),
		content:    content,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateCreated,
		history:    []State{StateCreated},
		dialog:     DialogPath{CallID: callID, LocalTag: msrp.NewTransactionID()[:8]},
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		answerCh:   make(chan bool, 1),
		responseCh: make(chan *Response, 8),
		ackCh:      make(chan struct{}, 1),
		mediaCh:    make(chan error, 1),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("sharing")
	}
	return s
}

// ID returns the local session id.
func (s *Session) ID() string { return s.id }

// Remote returns the remote party.
func (s *Session) Remote() string { return s.remote }

// Direction returns the session role.
func (s *Session) Direction() Direction { return s.direction }

// TransferID returns the file transfer id of the negotiation.
func (s *Session) TransferID() string { return s.transferID }

// CallID returns the signaling call id.
func (s *Session) CallID() string { return s.dialog.CallID }

// Content returns the shared content descriptor. It is nil for an incoming
// session whose offer could not be parsed.
func (s *Session) Content() *ContentDescriptor { return s.content }

// Thumbnail returns the preview, or nil.
func (s *Session) Thumbnail() *ThumbnailDescriptor { return s.thumbnail }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns the states visited so far, in order.
func (s *Session) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}

// Reason returns the reason of a Rejected, TimedOut or Aborted session.
func (s *Session) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Err returns the failure of a Failed session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailed {
		return nil
	}
	return &Error{Code: s.errCode, Err: fmt.Errorf("%s", s.errMsg)}
}

// ErrorCode returns the code of a Failed session.
func (s *Session) ErrorCode() ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCode
}

// Locator returns where completed content can be found.
func (s *Session) Locator() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locator
}

// Dialog returns a snapshot of the dialog path.
func (s *Session) Dialog() DialogPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialog
}

// BytesTransferred returns the bytes sent and acknowledged, or received.
func (s *Session) BytesTransferred() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// AddListener registers l. Listeners added after the terminal transition
// receive nothing.
func (s *Session) AddListener(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.eventsClosed {
		s.listeners = append(s.listeners, l)
	}
}

// Done is closed once the terminal callback has been delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is terminal and its terminal callback has
// been delivered, or ctx ends.
func (s *Session) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.done:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// AcceptInvitation accepts an incoming invitation.
func (s *Session) AcceptInvitation() error {
	return s.answer(true)
}

// RejectInvitation declines an incoming invitation.
func (s *Session) RejectInvitation() error {
	return s.answer(false)
}

func (s *Session) answer(accept bool) error {
	if s.direction != DirectionIncoming {
		return ErrNotIncoming
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state.IsTerminal():
		return fmt.Errorf("%w: %s", ErrInvalidState, s.state)
	case s.answered:
		return ErrAlreadyAnswered
	}
	s.answered = true
	s.answerCh <- accept
	return nil
}

// AbortSession ends the session from the local side. It closes the media
// connection, deletes partially received content and notifies the remote
// party. Aborting a terminal session does nothing.
func (s *Session) AbortSession() {
	s.mu.Lock()
	st, dialog, inviteSent := s.state, s.dialog, s.inviteSent
	s.mu.Unlock()
	if st.IsTerminal() {
		return
	}

	if !s.finish(outcome{state: StateAborted, reason: ReasonAbortedByUser}) {
		return
	}
	if s.log != nil {
		s.log.Infof("session %s aborted by user in state %s", s.id, st)
	}

	switch {
	case dialog.SignalingEstablished:
		s.sendBye()
	case s.direction == DirectionOutgoing && inviteSent:
		s.cleanupSignal(func(ctx context.Context) error {
			return s.config.Signaling.SendCancel(ctx, s.dialog.CallID)
		})
	case s.direction == DirectionIncoming:
		s.respondAfterEnd(&Response{StatusCode: StatusDecline, Reason: "Decline"})
	}
}

// HandleResponse feeds a response to our INVITE.
func (s *Session) HandleResponse(resp *Response) {
	if resp == nil || s.State().IsTerminal() {
		return
	}
	if resp.ToTag != "" {
		s.mu.Lock()
		if s.dialog.RemoteTag == "" {
			s.dialog.RemoteTag = resp.ToTag
		}
		s.mu.Unlock()
	}
	select {
	case s.responseCh <- resp:
	default:
		if s.log != nil {
			s.log.Warnf("session %s: dropping response %d", s.id, resp.StatusCode)
		}
	}
}

// HandleAck feeds the ACK to our 200 OK.
func (s *Session) HandleAck() {
	select {
	case s.ackCh <- struct{}{}:
	default:
	}
}

// HandleCancel feeds a CANCEL of an incoming invitation. It has no effect
// once the invitation was accepted.
func (s *Session) HandleCancel() {
	s.mu.Lock()
	st, signaled := s.state, s.dialog.SignalingEstablished
	s.mu.Unlock()
	if s.direction != DirectionIncoming || signaled || (st != StateCreated && st != StateRinging) {
		return
	}
	if s.finish(outcome{state: StateRejected, reason: ReasonRejectedByRemote}) {
		s.respondAfterEnd(&Response{StatusCode: StatusRequestTerminated, Reason: "Request Terminated"})
	}
}

// HandleBye feeds a BYE from the remote party.
func (s *Session) HandleBye() {
	if s.finish(outcome{state: StateAborted, reason: ReasonAbortedByRemote}) && s.log != nil {
		s.log.Infof("session %s aborted by remote", s.id)
	}
}

// advance moves to a non-terminal state. It returns false when the session
// already ended, in which case the caller stops quietly.
func (s *Session) advance(to State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return false, nil
	}
	if !CanTransition(s.state, to) {
		return false, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	s.history = append(s.history, to)
	return true, nil
}

// ensureEstablished enters Established from Establishing and announces the
// start. The media callbacks may get there before the session goroutine.
func (s *Session) ensureEstablished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEstablishing {
		s.state = StateEstablished
		s.history = append(s.history, StateEstablished)
		s.dialog.establishSession()
		s.post(func(l Listener) { l.OnStarted(s) })
	}
	return !s.state.IsTerminal()
}

func (s *Session) ensureTransferring() bool {
	if !s.ensureEstablished() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEstablished {
		s.state = StateTransferring
		s.history = append(s.history, StateTransferring)
	}
	return !s.state.IsTerminal()
}

type outcome struct {
	state   State
	reason  Reason
	code    ErrorCode
	err     error
	locator string
	// keepMedia leaves the media connection to close itself.
	keepMedia bool
}

// finish performs the terminal transition. It returns false if the session
// had already ended. Received content is committed when completing and
// discarded otherwise.
func (s *Session) finish(o outcome) bool {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	if o.state == StateCompleted && s.state != StateTransferring {
		o = outcome{state: StateFailed, code: ErrorUnexpected,
			err: fmt.Errorf("%w: completed in %s", ErrInvalidTransition, s.state)}
	}

	writer := s.writer
	s.writer = nil
	if o.state == StateCompleted && writer != nil {
		if s.content != nil && s.content.Size >= 0 && s.stored != s.content.Size {
			o = outcome{state: StateFailed, code: ErrorMediaTransferFailed,
				err: fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, s.stored, s.content.Size)}
		} else if loc, err := writer.Commit(); err != nil {
			o = outcome{state: StateFailed, code: ErrorMediaTransferFailed, err: err}
		} else {
			o.locator = loc
			writer = nil
		}
	}

	// Partial content is gone before the terminal callback runs.
	if writer != nil {
		if err := writer.Discard(); err != nil && s.log != nil {
			s.log.Warnf("session %s: discard partial content: %v", s.id, err)
		}
	}

	s.state = o.state
	s.history = append(s.history, o.state)
	s.reason = o.reason
	s.errCode = o.code
	if o.err != nil {
		s.errMsg = o.err.Error()
	}
	s.locator = o.locator
	s.dialog.terminate()
	media := s.media

	switch o.state {
	case StateCompleted:
		loc := o.locator
		s.post(func(l Listener) { l.OnCompleted(s, loc) })
	case StateFailed:
		code, msg := o.code, s.errMsg
		s.post(func(l Listener) { l.OnError(s, code, msg) })
	default:
		reason := o.reason
		s.post(func(l Listener) { l.OnAborted(s, reason) })
	}
	s.eventsClosed = true
	s.listeners = nil
	s.mu.Unlock()

	s.cancel()
	// A receiver that completed still owes the final acknowledgement; it
	// closes the connection once the sender drops it.
	if media != nil && !o.keepMedia && !(o.state == StateCompleted && s.direction == DirectionIncoming) {
		media.CloseSession()
	}
	if s.log != nil {
		s.log.Debugf("session %s: %s", s.id, o.state)
	}
	return true
}

func (s *Session) fail(code ErrorCode, err error) bool {
	if s.log != nil && !s.State().IsTerminal() {
		s.log.Warnf("session %s failed: %s: %v", s.id, code, err)
	}
	return s.finish(outcome{state: StateFailed, code: code, err: err})
}

// failAndHangUp fails the session and sends BYE when a dialog exists.
func (s *Session) failAndHangUp(code ErrorCode, err error) {
	if s.fail(code, err) && s.Dialog().SignalingEstablished {
		s.sendBye()
	}
}

// post queues an event for the current listeners. s.mu must be held.
func (s *Session) post(fn func(Listener)) {
	if s.eventsClosed {
		return
	}
	s.events = append(s.events, event{listeners: s.listeners, fn: fn})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// emit queues an event unless the session already ended.
func (s *Session) emit(fn func(Listener)) {
	s.mu.Lock()
	s.post(fn)
	s.mu.Unlock()
}

// dispatch delivers events in order until the terminal one.
func (s *Session) dispatch() {
	for range s.wake {
		s.mu.Lock()
		evs := s.events
		s.events = nil
		last := s.eventsClosed
		s.mu.Unlock()

		for _, e := range evs {
			for _, l := range e.listeners {
				s.deliver(l, e.fn)
			}
		}
		if last {
			close(s.done)
			if s.onTerminal != nil {
				s.onTerminal(s)
			}
			return
		}
	}
}

func (s *Session) deliver(l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil && s.log != nil {
			s.log.Errorf("session %s: listener panic: %v", s.id, r)
		}
	}()
	fn(l)
}

// start launches the session goroutines.
func (s *Session) start() {
	go s.dispatch()
	go s.run()
}

func (s *Session) run() {
	defer close(s.stopped)
	defer func() {
		if r := recover(); r != nil {
			s.failAndHangUp(ErrorUnexpected, fmt.Errorf("panic: %v", r))
		}
	}()
	if s.direction == DirectionOutgoing {
		s.runOutgoing()
	} else {
		s.runIncoming()
	}
}

func (s *Session) signalContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.config.SocketTimeout)
}

// cleanupSignal sends a message after the terminal transition, when the
// session context is already cancelled.
func (s *Session) cleanupSignal(send func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SocketTimeout)
	defer cancel()
	if err := send(ctx); err != nil && s.log != nil {
		s.log.Debugf("session %s: cleanup signaling: %v", s.id, err)
	}
}

func (s *Session) respondAfterEnd(resp *Response) {
	s.cleanupSignal(func(ctx context.Context) error {
		return s.respond(ctx, resp)
	})
}

func (s *Session) sendBye() {
	s.cleanupSignal(func(ctx context.Context) error {
		return s.config.Signaling.SendBye(ctx, s.dialog.CallID)
	})
}

func (s *Session) respond(ctx context.Context, resp *Response) error {
	if resp.ToTag == "" {
		tagged := *resp
		tagged.ToTag = s.dialog.LocalTag
		resp = &tagged
	}
	err := s.config.Signaling.SendResponse(ctx, s.dialog.CallID, resp)
	if err != nil && s.log != nil {
		s.log.Warnf("session %s: send %d: %v", s.id, resp.StatusCode, err)
	}
	return err
}

// hangUpGrace is how long a broken transfer waits for the BYE that usually
// follows a connection dropped by the peer.
const hangUpGrace = time.Second

// hungUp waits up to hangUpGrace for the session to end. It returns true
// when it did.
func (s *Session) hungUp() bool {
	t := time.NewTimer(hangUpGrace)
	defer t.Stop()
	select {
	case <-s.terminated():
		return true
	case <-t.C:
		return false
	}
}

// terminated is closed by the terminal transition.
func (s *Session) terminated() <-chan struct{} {
	return s.ctx.Done()
}
