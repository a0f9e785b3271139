package sharing

import (
	"fmt"
	"time"

	"github.com/backkem/rcs/pkg/negotiation"
)

// runIncoming answers an invitation: ringing, user decision, admission
// control, answer and reception.
func (s *Session) runIncoming() {
	if s.offerErr != nil {
		// No invitation is shown for content we cannot take.
		if s.log != nil {
			s.log.Infof("session %s: unsupported offer: %v", s.id, s.offerErr)
		}
		ctx, cancel := s.signalContext()
		s.respond(ctx, &Response{StatusCode: StatusUnsupportedMediaType, Reason: "Unsupported Media Type"})
		cancel()
		s.fail(ErrorUnsupportedMediaType, s.offerErr)
		return
	}

	if !s.config.AdmitOnAccept && s.rejectByAdmission() {
		return
	}

	ctx, cancel := s.signalContext()
	err := s.respond(ctx, &Response{StatusCode: StatusRinging, Reason: "Ringing"})
	cancel()
	if err != nil {
		s.fail(ErrorSendResponseFailed, err)
		return
	}
	if ok, err := s.advance(StateRinging); !ok {
		if err != nil {
			s.fail(ErrorUnexpected, err)
		}
		return
	}
	s.emit(func(l Listener) { l.OnInvited(s) })

	if !s.awaitDecision() {
		return
	}

	if s.config.AdmitOnAccept && s.rejectByAdmission() {
		return
	}
	if ok, err := s.advance(StateAccepted); !ok {
		if err != nil {
			s.fail(ErrorUnexpected, err)
		}
		return
	}

	neg, err := s.negotiator()
	if err != nil {
		s.fail(ErrorSessionInitiationFailed, err)
		return
	}
	media, err := s.newMedia(s.offer.Secured())
	if err != nil {
		s.fail(ErrorSessionInitiationFailed, err)
		return
	}

	// A passive answerer listens before answering so that the offerer
	// cannot connect ahead of us.
	role := negotiation.AnswerRole(s.offer.Setup)
	port, err := negotiation.LocalPort(role, neg.ActivePort(), media.Listen)
	if err != nil {
		s.fail(ErrorSessionInitiationFailed, err)
		return
	}
	if role == negotiation.SetupActive {
		media.UseFixedPort(port)
	}

	writer, err := s.config.Sink.Create(s.content)
	if err != nil {
		s.fail(ErrorSessionInitiationFailed, fmt.Errorf("create sink: %w", err))
		return
	}
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		writer.Discard()
		return
	}
	s.writer = writer
	s.mu.Unlock()

	payload, err := neg.CreateAnswer(s.offer, negotiation.Endpoint{
		Port:     port,
		Protocol: media.LocalProtocol(),
		Path:     media.LocalPath(),
		Setup:    role,
	})
	if err != nil {
		s.fail(ErrorSessionInitiationFailed, err)
		return
	}

	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.dialog.LocalContent = string(payload.Body)
	s.dialog.establishSignaling()
	s.mu.Unlock()

	ctx, cancel = s.signalContext()
	err = s.respond(ctx, &Response{
		StatusCode:  StatusOK,
		Reason:      "OK",
		ContentType: payload.ContentType,
		Body:        payload.Body,
	})
	cancel()
	if err != nil {
		s.fail(ErrorSendResponseFailed, err)
		return
	}
	if ok, err := s.advance(StateEstablishing); !ok {
		if err != nil {
			s.failAndHangUp(ErrorUnexpected, err)
		}
		return
	}

	timer := time.NewTimer(s.config.AckTimeout)
	select {
	case <-s.ackCh:
		timer.Stop()
	case <-timer.C:
		s.failAndHangUp(ErrorSendResponseFailed, ErrNoAck)
		return
	case <-s.terminated():
		timer.Stop()
		return
	}

	if err := s.openMedia(media, role, s.offer); err != nil {
		s.failAndHangUp(ErrorSessionInitiationFailed, err)
		return
	}
	if !s.ensureTransferring() && s.State() != StateCompleted {
		return
	}

	// The media callbacks commit the content on the last chunk.
	select {
	case err := <-s.mediaCh:
		if err != nil && !s.hungUp() {
			s.failAndHangUp(ErrorMediaTransferFailed, err)
		}
	case <-s.terminated():
		if s.State() == StateCompleted {
			media.Linger(s.config.SocketTimeout)
		}
	}
}

// awaitDecision waits for the user. It returns true on accept.
func (s *Session) awaitDecision() bool {
	timer := time.NewTimer(s.config.RingingPeriod)
	defer timer.Stop()

	select {
	case accept := <-s.answerCh:
		if accept {
			return true
		}
		if s.finish(outcome{state: StateRejected, reason: ReasonRejectedByUser}) {
			s.respondAfterEnd(&Response{StatusCode: StatusDecline, Reason: "Decline"})
		}
		return false
	case <-timer.C:
		if s.finish(outcome{state: StateTimedOut, reason: ReasonRejectedByTimeout}) {
			s.respondAfterEnd(&Response{StatusCode: StatusBusyHere, Reason: "Busy Here"})
		}
		return false
	case <-s.terminated():
		return false
	}
}

// rejectByAdmission applies the size and storage limits. It returns true
// when the invitation was rejected.
func (s *Session) rejectByAdmission() bool {
	reason := admit(s.content.Size, s.config.Limits)
	if reason == ReasonUnspecified {
		return false
	}
	if !s.finish(outcome{state: StateRejected, reason: reason}) {
		return true
	}
	if s.log != nil {
		s.log.Infof("session %s: %s (%d bytes)", s.id, reason, s.content.Size)
	}
	s.respondAfterEnd(&Response{StatusCode: StatusForbidden, Reason: "Forbidden", Warning: WarningSizeExceeded})
	return true
}
