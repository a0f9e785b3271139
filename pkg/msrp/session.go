package msrp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
)

// EventListener receives transfer events from a Session.
//
// Callbacks run on the session's own goroutines and must not block for long.
// Exactly one of OnTransferComplete, OnTransferError or OnTransferAborted is
// delivered per message.
type EventListener interface {
	// OnTransferProgress reports cumulative bytes acknowledged (sending) or
	// received. total is -1 when unknown.
	OnTransferProgress(current, total int64)

	// OnDataReceived delivers one inbound chunk. Returning an error rejects
	// the chunk and fails the transfer.
	OnDataReceived(msgID string, data []byte, contentType string) error

	// OnTransferComplete reports that the last chunk was sent and acknowledged,
	// or received.
	OnTransferComplete(msgID string)

	// OnTransferError reports a failed transfer. code is the peer's status
	// code, or 0 for local and I/O failures.
	OnTransferError(msgID string, code int, err error)

	// OnTransferAborted reports a transfer stopped by Close or by the peer.
	OnTransferAborted(msgID string)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// LocalPath is this endpoint's MSRP URI (From-Path of outbound requests).
	LocalPath string
	// RemotePath is the peer's MSRP URI (To-Path of outbound requests).
	RemotePath string

	// Listener receives transfer events. Required.
	Listener EventListener

	// ChunkSize is the maximum payload of one outbound chunk.
	// Default: DefaultChunkSize
	ChunkSize int

	// ResponseTimeout bounds the wait for each chunk acknowledgement.
	// Default: DefaultResponseTimeout
	ResponseTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Session is one chunked transfer over one connection.
//
// State flows Idle → Opening → Open → Closed. A failed acknowledgement
// closes the session; there is no automatic retry.
//
// Responses are written by a dedicated goroutine so the read loop never
// blocks on the connection while the peer is writing to it.
type Session struct {
	localPath       string
	remotePath      string
	listener        EventListener
	chunkSize       int
	responseTimeout time.Duration
	log             logging.LeveledLogger

	mu       sync.Mutex
	state    State
	conn     net.Conn
	sending  bool
	pending  map[string]chan *Chunk
	closeCh  chan struct{}
	readDone chan struct{}
	readErr  error

	bound     chan struct{}
	boundOnce sync.Once

	writeMu   sync.Mutex
	responses chan *Chunk

	userClosed   atomic.Bool
	transferred  atomic.Int64
	acknowledged atomic.Bool

	// Inbound message being received.
	inMsgID string
	inBytes int64
}

// NewSession creates an idle session.
func NewSession(config SessionConfig) *Session {
	s := &Session{
		localPath:       config.LocalPath,
		remotePath:      config.RemotePath,
		listener:        config.Listener,
		chunkSize:       config.ChunkSize,
		responseTimeout: config.ResponseTimeout,
		pending:         make(map[string]chan *Chunk),
		closeCh:         make(chan struct{}),
		readDone:        make(chan struct{}),
		bound:           make(chan struct{}),
		responses:       make(chan *Chunk, responseQueueSize),
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	if s.responseTimeout <= 0 {
		s.responseTimeout = DefaultResponseTimeout
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("msrp")
	}
	return s
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BytesTransferred returns the cumulative bytes acknowledged or received.
func (s *Session) BytesTransferred() int64 {
	return s.transferred.Load()
}

// Acknowledged reports whether the final chunk of an outbound message was acknowledged.
func (s *Session) Acknowledged() bool {
	return s.acknowledged.Load()
}

// Done is closed once the connection is gone: the read loop has ended or
// the session was closed before one started.
func (s *Session) Done() <-chan struct{} {
	return s.readDone
}

// Bound is closed once the peer has sent its first request on the
// connection.
func (s *Session) Bound() <-chan struct{} {
	return s.bound
}

// WaitBound blocks until the peer has bound the connection with its first
// request. A passive endpoint must not send before then.
func (s *Session) WaitBound(ctx context.Context) error {
	select {
	case <-s.bound:
		return nil
	default:
	}
	select {
	case <-s.bound:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrBindTimeout, ctx.Err())
	case <-s.closeCh:
		return ErrClosed
	case <-s.readDone:
		if s.userClosed.Load() {
			return ErrClosed
		}
		if s.readErr != nil {
			return s.readErr
		}
		return io.ErrUnexpectedEOF
	}
}

// LocalPath returns the local MSRP URI.
func (s *Session) LocalPath() string {
	return s.localPath
}

// RemotePath returns the remote MSRP URI.
func (s *Session) RemotePath() string {
	return s.remotePath
}

func (s *Session) setOpening() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateIdle:
		s.state = StateOpening
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrAlreadyOpen
	}
}

// Attach binds an established connection and starts the read loop.
func (s *Session) Attach(conn net.Conn) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if s.state == StateOpen {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	if s.log != nil {
		s.log.Debugf("session open %s -> %s", s.localPath, s.remotePath)
	}

	go s.writeLoop()
	go s.readLoop(NewReader(conn, 0))
	return nil
}

// SendChunks streams r as message msgID. It returns once the transfer is
// submitted; the result is reported through the EventListener.
// total is the declared payload size, or -1 when unknown.
func (s *Session) SendChunks(r io.Reader, msgID, contentType string, total int64) error {
	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case s.state != StateOpen:
		s.mu.Unlock()
		return ErrNotOpen
	case s.sending:
		s.mu.Unlock()
		return ErrBusy
	}
	s.sending = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("sending message %s (%d bytes, %s)", msgID, total, contentType)
	}
	go s.sendLoop(r, msgID, contentType, total)
	return nil
}

func (s *Session) sendLoop(r io.Reader, msgID, contentType string, total int64) {
	br := bufio.NewReaderSize(r, s.chunkSize)
	buf := make([]byte, s.chunkSize)
	var sent int64

	for {
		want := len(buf)
		if total >= 0 && total-sent < int64(want) {
			want = int(total - sent)
		}
		n, err := io.ReadFull(br, buf[:want])
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			s.failSend(msgID, 0, fmt.Errorf("msrp: read payload: %w", err))
			return
		}
		if total >= 0 && n < want {
			s.failSend(msgID, 0, ErrShortSource)
			return
		}

		last := false
		if total >= 0 {
			last = sent+int64(n) == total
		} else if _, perr := br.Peek(1); perr != nil {
			last = true
		}

		flag := FlagMore
		if last {
			flag = FlagLast
		}
		c := &Chunk{
			TransactionID: NewTransactionID(),
			Method:        MethodSend,
			ToPath:        s.remotePath,
			FromPath:      s.localPath,
			MessageID:     msgID,
			Range:         ByteRange{Start: sent + 1, End: sent + int64(n), Total: total},
			HasRange:      true,
			FailureReport: "yes",
			ContentType:   contentType,
			Body:          buf[:n],
			Flag:          flag,
		}
		if n == 0 {
			// A zero-length payload travels as one empty chunk that still carries its range.
			c.Range = ByteRange{Start: 1, End: 0, Total: 0}
		}

		resp, err := s.transact(context.Background(), c)
		if err != nil {
			if s.userClosed.Load() {
				s.finishSend()
				s.listener.OnTransferAborted(msgID)
				return
			}
			code := 0
			if errors.Is(err, ErrResponseTimeout) {
				code = StatusRequestTimeout
			}
			s.failSend(msgID, code, err)
			return
		}
		if resp.StatusCode != StatusOK {
			s.failSend(msgID, resp.StatusCode, fmt.Errorf("%w: %03d %s", ErrChunkRejected, resp.StatusCode, resp.Comment))
			return
		}

		sent += int64(n)
		s.transferred.Store(sent)
		s.listener.OnTransferProgress(sent, total)

		if last {
			s.acknowledged.Store(true)
			s.finishSend()
			if s.log != nil {
				s.log.Infof("message %s delivered (%d bytes)", msgID, sent)
			}
			s.listener.OnTransferComplete(msgID)
			return
		}
	}
}

func (s *Session) finishSend() {
	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
}

func (s *Session) failSend(msgID string, code int, err error) {
	if s.log != nil {
		s.log.Warnf("message %s failed: %v", msgID, err)
	}
	s.finishSend()
	s.shutdown()
	s.listener.OnTransferError(msgID, code, err)
}

// SendEmptyChunk sends a body-less SEND and waits for its acknowledgement.
// The active endpoint uses it to bind the connection to the session.
func (s *Session) SendEmptyChunk(ctx context.Context) error {
	if st := s.State(); st != StateOpen {
		if st == StateClosed {
			return ErrClosed
		}
		return ErrNotOpen
	}
	c := &Chunk{
		TransactionID: NewTransactionID(),
		Method:        MethodSend,
		ToPath:        s.remotePath,
		FromPath:      s.localPath,
		MessageID:     NewTransactionID(),
		Flag:          FlagLast,
	}
	resp, err := s.transact(ctx, c)
	if err != nil {
		return err
	}
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("%w: %03d %s", ErrChunkRejected, resp.StatusCode, resp.Comment)
	}
	return nil
}

// transact writes a request and waits for the matching response.
func (s *Session) transact(ctx context.Context, c *Chunk) (*Chunk, error) {
	respCh := make(chan *Chunk, 1)
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.pending[c.TransactionID] = respCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, c.TransactionID)
		s.mu.Unlock()
	}()

	if err := s.write(c); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.responseTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		return nil, ErrResponseTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closeCh:
		// The read loop delivers a response before it can observe the close.
		select {
		case resp := <-respCh:
			return resp, nil
		default:
		}
		return nil, ErrClosed
	case <-s.readDone:
		select {
		case resp := <-respCh:
			return resp, nil
		default:
		}
		if s.readErr != nil {
			return nil, s.readErr
		}
		return nil, io.ErrUnexpectedEOF
	}
}

func (s *Session) write(c *Chunk) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.responseTimeout))
	return c.Encode(conn)
}

// respond queues a response for the write loop.
func (s *Session) respond(c *Chunk, status int, comment string) {
	select {
	case s.responses <- c.Response(status, comment):
	case <-s.closeCh:
	}
}

// writeLoop writes queued responses in order. A nil entry closes the
// session once everything before it has been written.
func (s *Session) writeLoop() {
	for {
		select {
		case resp := <-s.responses:
			if resp == nil {
				s.shutdown()
				return
			}
			if err := s.write(resp); err != nil && s.log != nil {
				s.log.Debugf("response %s %03d: %v", resp.TransactionID, resp.StatusCode, err)
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) readLoop(r *Reader) {
	defer close(s.readDone)

	for {
		c, err := r.ReadChunk()
		if err != nil {
			s.readErr = err
			s.onReadError(err)
			return
		}

		if c.IsResponse() {
			s.mu.Lock()
			ch := s.pending[c.TransactionID]
			s.mu.Unlock()
			if ch != nil {
				ch <- c
			} else if s.log != nil {
				s.log.Debugf("unmatched response %s %03d", c.TransactionID, c.StatusCode)
			}
			continue
		}

		s.boundOnce.Do(func() { close(s.bound) })
		if err := s.handleRequest(c); err != nil {
			s.readErr = err
			// Close after the rejection has gone out.
			select {
			case s.responses <- nil:
			case <-s.closeCh:
			}
			return
		}
	}
}

func (s *Session) handleRequest(c *Chunk) error {
	if c.Method != MethodSend {
		// Reports need no response.
		if c.Method != MethodReport && s.log != nil {
			s.log.Debugf("ignoring %s request", c.Method)
		}
		return nil
	}

	// Empty chunk binding the connection.
	if len(c.Body) == 0 && !c.HasRange {
		s.respond(c, StatusOK, "OK")
		return nil
	}

	if c.MessageID != s.inMsgID {
		s.inMsgID = c.MessageID
		s.inBytes = 0
	}

	if c.Flag == FlagAbort {
		s.inMsgID = ""
		s.respond(c, StatusOK, "OK")
		s.listener.OnTransferAborted(c.MessageID)
		return nil
	}

	if len(c.Body) > 0 {
		if err := s.listener.OnDataReceived(c.MessageID, c.Body, c.ContentType); err != nil {
			s.respond(c, StatusStopSending, "Stop sending")
			s.listener.OnTransferError(c.MessageID, 0, err)
			return err
		}
		s.inBytes += int64(len(c.Body))
		s.transferred.Store(s.inBytes)
		s.listener.OnTransferProgress(s.inBytes, c.Range.Total)
	}

	if c.Flag == FlagLast {
		msgID := s.inMsgID
		s.inMsgID = ""
		s.listener.OnTransferComplete(msgID)
	}

	// Acknowledge after the data has been consumed so the sender cannot
	// finish ahead of the receiver.
	s.respond(c, StatusOK, "OK")
	return nil
}

func (s *Session) onReadError(err error) {
	closing := s.State() == StateClosed
	if inbound := s.inMsgID; inbound != "" {
		switch {
		case s.userClosed.Load():
			s.listener.OnTransferAborted(inbound)
		case !closing:
			if s.log != nil {
				s.log.Warnf("receive of %s failed: %v", inbound, err)
			}
			s.listener.OnTransferError(inbound, 0, err)
		}
	}
	s.shutdown()
}

// Close tears the connection down. In-flight sends report OnTransferAborted.
// Close is idempotent.
func (s *Session) Close() error {
	s.userClosed.Store(true)
	s.shutdown()
	return nil
}

func (s *Session) shutdown() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	conn := s.conn
	close(s.closeCh)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	} else {
		// No read loop was started.
		close(s.readDone)
	}
	if s.log != nil {
		s.log.Debugf("session closed %s", s.localPath)
	}
}
