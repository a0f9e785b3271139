package sharing

import (
	"errors"
	"fmt"

	"github.com/backkem/rcs/pkg/msrp"
)

// errMediaAborted reports a transfer stopped by the peer or by Close.
var errMediaAborted = errors.New("sharing: media transfer aborted")

// mediaListener adapts the MSRP callbacks to the session.
type mediaListener struct {
	s *Session
}

func (m mediaListener) OnTransferProgress(current, total int64) {
	s := m.s
	if total < 0 && s.content != nil {
		total = s.content.Size
	}
	if !s.ensureTransferring() {
		return
	}
	s.mu.Lock()
	s.received = current
	s.post(func(l Listener) { l.OnProgress(s, current, total) })
	s.mu.Unlock()
}

func (m mediaListener) OnDataReceived(msgID string, data []byte, contentType string) error {
	s := m.s
	if s.direction != DirectionIncoming {
		return fmt.Errorf("sharing: unexpected data on outgoing session")
	}
	if !s.ensureTransferring() {
		return ErrSinkClosed
	}
	s.mu.Lock()
	if s.writer == nil {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	if size := s.content.Size; size >= 0 && s.stored+int64(len(data)) > size {
		stored := s.stored
		s.mu.Unlock()
		err := fmt.Errorf("%w: %d bytes past the declared %d", ErrSizeMismatch, stored+int64(len(data))-size, size)
		// The connection closes itself once the rejection is written.
		if s.finish(outcome{state: StateFailed, code: ErrorMediaTransferFailed, err: err, keepMedia: true}) {
			s.sendBye()
		}
		return err
	}
	_, err := s.writer.Write(data)
	if err == nil {
		s.stored += int64(len(data))
	}
	s.mu.Unlock()
	if err != nil {
		s.failAndHangUp(ErrorMediaTransferFailed, fmt.Errorf("store content: %w", err))
	}
	return err
}

func (m mediaListener) OnTransferComplete(msgID string) {
	s := m.s
	if !s.ensureTransferring() {
		return
	}
	if s.direction == DirectionIncoming {
		// Commit before the last chunk is acknowledged; the sender may hang
		// up as soon as it sees the acknowledgement.
		if s.finish(outcome{state: StateCompleted}) && s.State() == StateFailed {
			s.sendBye()
		}
		return
	}
	m.report(nil)
}

func (m mediaListener) OnTransferError(msgID string, code int, err error) {
	if code != 0 {
		err = fmt.Errorf("%w (status %d)", err, code)
	}
	m.report(err)
}

func (m mediaListener) OnTransferAborted(msgID string) {
	if m.s.direction == DirectionIncoming {
		m.s.finish(outcome{state: StateAborted, reason: ReasonAbortedByRemote})
		return
	}
	m.report(errMediaAborted)
}

// report hands the outcome of a transfer to the session goroutine.
func (m mediaListener) report(err error) {
	select {
	case m.s.mediaCh <- err:
	default:
	}
}

var _ msrp.EventListener = mediaListener{}
