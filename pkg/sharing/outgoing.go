package sharing

import (
	"context"
	"fmt"
	"time"

	"github.com/backkem/rcs/pkg/msrp"
	"github.com/backkem/rcs/pkg/negotiation"
)

func (s *Session) newMedia(secured bool) (*msrp.Manager, error) {
	m, err := msrp.NewManager(msrp.ManagerConfig{
		LocalHost:       s.config.LocalHost,
		Factory:         s.config.Factory,
		Secured:         secured,
		ChunkSize:       s.config.ChunkSize,
		ResponseTimeout: s.config.SocketTimeout,
		LoggerFactory:   s.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, s.state)
	}
	s.media = m
	return m, nil
}

func (s *Session) negotiator() (*negotiation.Negotiator, error) {
	var maxSize int64
	if s.config.Limits != nil {
		maxSize = s.config.Limits.MaxTransferSize()
	}
	return negotiation.NewNegotiator(negotiation.Config{
		LocalHost:     s.config.LocalHost,
		OfferRole:     s.config.OfferRole,
		ActivePort:    s.config.ActivePort,
		MaxSize:       maxSize,
		LoggerFactory: s.config.LoggerFactory,
	})
}

// runOutgoing offers the content, waits for the answer and streams the
// content in the negotiated role.
func (s *Session) runOutgoing() {
	neg, err := s.negotiator()
	if err != nil {
		s.fail(ErrorSessionInitiationFailed, err)
		return
	}
	media, err := s.newMedia(s.config.Secured)
	if err != nil {
		s.fail(ErrorSessionInitiationFailed, err)
		return
	}

	// A passive or actpass offerer listens before the invitation goes out.
	role := neg.OfferRole()
	port, err := negotiation.LocalPort(role, neg.ActivePort(), media.Listen)
	if err != nil {
		s.fail(ErrorSessionInitiationFailed, err)
		return
	}
	if role == negotiation.SetupActive {
		media.UseFixedPort(port)
	}

	var thumb *negotiation.Thumbnail
	if s.thumbnail != nil && s.config.Capabilities != nil && s.config.Capabilities.IsThumbnailSupported(s.remote) {
		data, err := s.thumbnail.load()
		if err != nil {
			if s.log != nil {
				s.log.Warnf("session %s: thumbnail skipped: %v", s.id, err)
			}
		} else {
			thumb = &negotiation.Thumbnail{ContentType: s.thumbnail.Encoding, Data: data}
		}
	}

	payload, err := neg.CreateOffer(negotiation.Endpoint{
		Port:     port,
		Protocol: media.LocalProtocol(),
		Path:     media.LocalPath(),
		Setup:    role,
	}, negotiation.FileInfo{
		TransferID: s.transferID,
		Name:       s.content.Name,
		Type:       s.content.Encoding,
		Size:       s.content.Size,
	}, thumb)
	if err != nil {
		s.fail(ErrorSessionInitiationFailed, err)
		return
	}

	s.mu.Lock()
	s.dialog.LocalContent = string(payload.Body)
	s.mu.Unlock()

	if ok, err := s.advance(StateRinging); !ok {
		if err != nil {
			s.fail(ErrorUnexpected, err)
		}
		return
	}

	ctx, cancel := s.signalContext()
	err = s.config.Signaling.SendInvite(ctx, &Invitation{
		CallID:      s.dialog.CallID,
		From:        s.config.LocalIdentity,
		To:          s.remote,
		FromTag:     s.dialog.LocalTag,
		ContentType: payload.ContentType,
		Body:        payload.Body,
	})
	cancel()
	if err != nil {
		s.fail(ErrorSessionInitiationFailed, fmt.Errorf("send invite: %w", err))
		return
	}
	s.mu.Lock()
	s.inviteSent = true
	s.mu.Unlock()
	if s.log != nil {
		s.log.Infof("session %s: invited %s (%s, %d bytes)", s.id, s.remote, s.content.Encoding, s.content.Size)
	}

	resp := s.awaitAnswer()
	if resp == nil {
		return
	}
	if !s.handleFinalResponse(resp) {
		return
	}

	s.mu.Lock()
	s.dialog.RemoteContent = string(resp.Body)
	s.dialog.establishSignaling()
	s.mu.Unlock()
	if ok, err := s.advance(StateAccepted); !ok {
		if err != nil {
			s.failAndHangUp(ErrorUnexpected, err)
		}
		return
	}

	ctx, cancel = s.signalContext()
	err = s.config.Signaling.SendAck(ctx, s.dialog.CallID)
	cancel()
	if err != nil {
		s.failAndHangUp(ErrorSessionInitiationFailed, fmt.Errorf("send ack: %w", err))
		return
	}

	answer, err := negotiation.ParseAnswer(resp.Body, resp.ContentType)
	if err != nil {
		s.failAndHangUp(ErrorSessionInitiationFailed, err)
		return
	}
	local, err := negotiation.ResolveOffer(role, answer.Setup)
	if err != nil {
		s.failAndHangUp(ErrorSessionInitiationFailed, err)
		return
	}

	if ok, err := s.advance(StateEstablishing); !ok {
		if err != nil {
			s.failAndHangUp(ErrorUnexpected, err)
		}
		return
	}
	if err := s.openMedia(media, local, answer); err != nil {
		s.failAndHangUp(ErrorSessionInitiationFailed, err)
		return
	}
	if !s.ensureTransferring() {
		return
	}

	if s.content.Source == nil {
		s.failAndHangUp(ErrorMediaTransferFailed, ErrNoContent)
		return
	}
	src, err := s.content.Source.Open()
	if err != nil {
		s.failAndHangUp(ErrorMediaTransferFailed, err)
		return
	}
	defer src.Close()

	if err := media.SendChunks(src, s.transferID, s.content.Encoding, s.content.Size); err != nil {
		s.failAndHangUp(ErrorMediaTransferFailed, err)
		return
	}

	select {
	case err := <-s.mediaCh:
		if err != nil {
			if !s.hungUp() {
				s.transferFailed(err)
			}
			return
		}
		if s.finish(outcome{state: StateCompleted, locator: s.content.URI}) {
			s.sendBye()
		}
	case <-s.terminated():
	}
}

// awaitAnswer waits for a final response, reporting ringing on the way.
// It returns nil when the session ended meanwhile.
func (s *Session) awaitAnswer() *Response {
	timer := time.NewTimer(s.config.RingingPeriod)
	defer timer.Stop()

	for {
		select {
		case resp := <-s.responseCh:
			if resp.StatusCode < 200 {
				if resp.StatusCode == StatusRinging {
					s.emit(func(l Listener) { l.OnRinging(s) })
				}
				continue
			}
			return resp
		case <-timer.C:
			if s.finish(outcome{state: StateTimedOut, reason: ReasonRejectedByTimeout}) {
				s.cleanupSignal(func(ctx context.Context) error {
					return s.config.Signaling.SendCancel(ctx, s.dialog.CallID)
				})
			}
			return nil
		case <-s.terminated():
			return nil
		}
	}
}

// handleFinalResponse maps a non-2xx final response to the terminal state.
func (s *Session) handleFinalResponse(resp *Response) bool {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	if s.log != nil {
		s.log.Infof("session %s: invitation answered %d %s", s.id, resp.StatusCode, resp.Reason)
	}
	switch resp.StatusCode {
	case StatusBusyHere, StatusDecline, StatusForbidden, StatusTemporarilyUnavail:
		s.finish(outcome{state: StateRejected, reason: ReasonRejectedByRemote})
	case StatusRequestTimeout:
		s.finish(outcome{state: StateTimedOut, reason: ReasonRejectedByTimeout})
	case StatusRequestTerminated:
		s.finish(outcome{state: StateAborted, reason: ReasonAbortedByRemote})
	case StatusUnsupportedMediaType:
		s.fail(ErrorUnsupportedMediaType, fmt.Errorf("remote: %d %s", resp.StatusCode, resp.Reason))
	default:
		s.fail(ErrorSessionInitiationFailed, fmt.Errorf("remote: %d %s", resp.StatusCode, resp.Reason))
	}
	return false
}

// transferFailed ends a session whose outbound transfer failed and asks for
// the remote capabilities again, since they may have changed.
func (s *Session) transferFailed(err error) {
	if !s.fail(ErrorMediaTransferFailed, err) {
		return
	}
	if s.config.Capabilities != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.SocketTimeout)
		if cerr := s.config.Capabilities.RequestCapabilities(ctx, s.remote); cerr != nil && s.log != nil {
			s.log.Debugf("session %s: capability refresh: %v", s.id, cerr)
		}
		cancel()
	}
	s.sendBye()
}

// openMedia connects or accepts the media connection for role. The active
// side binds the connection with an empty chunk and the passive side waits
// for it.
func (s *Session) openMedia(media *msrp.Manager, role negotiation.SetupRole, remote *negotiation.Result) error {
	ml := mediaListener{s: s}
	if role == negotiation.SetupActive {
		if _, err := media.CreateClientSession(remote.RemoteAddress(), remote.Path, ml, remote.Fingerprint); err != nil {
			return err
		}
	} else if _, err := media.CreateServerSession(remote.Path, ml); err != nil {
		return err
	}

	if err := media.OpenSession(s.ctx, s.config.SocketTimeout); err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	ctx, cancel := s.signalContext()
	defer cancel()
	if role == negotiation.SetupActive {
		if err := media.SendEmptyChunk(ctx); err != nil {
			return fmt.Errorf("bind media: %w", err)
		}
	} else if err := media.WaitBound(ctx); err != nil {
		// Nothing may be sent before the active side has bound the connection.
		return fmt.Errorf("bind media: %w", err)
	}
	if s.log != nil {
		s.log.Debugf("session %s: media open as %s", s.id, role)
	}
	s.ensureEstablished()
	return nil
}
