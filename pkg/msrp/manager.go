package msrp

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/backkem/rcs/pkg/transport"
	"github.com/pion/logging"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// LocalHost is the address advertised in the local path and used for listening.
	// Required.
	LocalHost string

	// Factory creates listeners and outbound connections. Required.
	Factory transport.Factory

	// Secured selects TLS for the media connection.
	Secured bool

	// ChunkSize is passed to sessions.
	// Default: DefaultChunkSize
	ChunkSize int

	// ResponseTimeout is passed to sessions.
	// Default: DefaultResponseTimeout
	ResponseTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Manager owns the endpoint side of one media session.
//
// Usage for the passive role:
//
//	port, _ := m.Listen()            // before answering
//	m.CreateServerSession(remotePath, l)
//	m.OpenSession(ctx, timeout)      // accepts
//	m.WaitBound(ctx)                 // before sending
//
// Usage for the active role:
//
//	m.UseFixedPort(9)
//	m.CreateClientSession(remoteAddr, remotePath, l, fingerprint)
//	m.OpenSession(ctx, timeout)      // dials
//	m.SendEmptyChunk(ctx)
type Manager struct {
	config    ManagerConfig
	sessionID string
	log       logging.LeveledLogger
	loggers   logging.LoggerFactory

	mu          sync.Mutex
	localPort   int
	listener    net.Listener
	session     *Session
	dialTarget  transport.PeerAddress
	fingerprint string
	client      bool
	closed      bool
}

// NewManager creates a manager with a fresh local session id.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.LocalHost == "" {
		return nil, fmt.Errorf("msrp: local host required")
	}
	if config.Factory == nil {
		return nil, fmt.Errorf("msrp: transport factory required")
	}
	m := &Manager{
		config:    config,
		sessionID: NewTransactionID(),
		loggers:   config.LoggerFactory,
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("msrp")
	}
	return m, nil
}

func (m *Manager) transportType() transport.TransportType {
	if m.config.Secured {
		return transport.TransportTypeTLS
	}
	return transport.TransportTypeTCP
}

// LocalProtocol returns the media protocol tag for the local endpoint.
func (m *Manager) LocalProtocol() string {
	return m.transportType().Protocol()
}

// LocalPort returns the advertised local port (0 before Listen or UseFixedPort).
func (m *Manager) LocalPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localPort
}

// LocalPath returns the local MSRP URI.
func (m *Manager) LocalPath() string {
	return Path{
		Secured:   m.config.Secured,
		Host:      m.config.LocalHost,
		Port:      m.LocalPort(),
		SessionID: m.sessionID,
	}.String()
}

// UseFixedPort advertises port without listening on it. Active endpoints
// connect outward and only need a placeholder port in their description.
func (m *Manager) UseFixedPort(port int) {
	m.mu.Lock()
	m.localPort = port
	m.mu.Unlock()
}

// Listen opens a listener on an ephemeral port and returns the port.
// Calling Listen again returns the existing port.
func (m *Manager) Listen() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.listener != nil {
		return m.localPort, nil
	}

	l, err := m.config.Factory.Listen(transport.PeerAddress{
		Host:          m.config.LocalHost,
		TransportType: m.transportType(),
	})
	if err != nil {
		return 0, err
	}
	m.listener = l
	m.localPort = transport.PortOf(l.Addr())

	if m.log != nil {
		m.log.Debugf("media listener on port %d", m.localPort)
	}
	return m.localPort, nil
}

func (m *Manager) newSession(remotePath string, l EventListener) *Session {
	return NewSession(SessionConfig{
		LocalPath:       m.LocalPath(),
		RemotePath:      remotePath,
		Listener:        l,
		ChunkSize:       m.config.ChunkSize,
		ResponseTimeout: m.config.ResponseTimeout,
		LoggerFactory:   m.loggers,
	})
}

// CreateClientSession prepares a session that dials remote on OpenSession.
// fingerprint, when set, is checked against the peer certificate of a TLS connection.
func (m *Manager) CreateClientSession(remote transport.PeerAddress, remotePath string, l EventListener, fingerprint string) (*Session, error) {
	s := m.newSession(remotePath, l)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.session = s
	m.client = true
	m.dialTarget = remote
	m.fingerprint = fingerprint
	return s, nil
}

// CreateServerSession prepares a session that accepts on the listener opened by Listen.
func (m *Manager) CreateServerSession(remotePath string, l EventListener) (*Session, error) {
	s := m.newSession(remotePath, l)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.listener == nil {
		return nil, fmt.Errorf("msrp: server session requires Listen")
	}
	m.session = s
	m.client = false
	return s, nil
}

// Session returns the current session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Linger waits until the peer drops the connection of the current session,
// or timeout elapses, then closes the session.
func (m *Manager) Linger(timeout time.Duration) {
	if s := m.Session(); s != nil {
		t := time.NewTimer(timeout)
		select {
		case <-s.Done():
		case <-t.C:
		}
		t.Stop()
	}
	m.CloseSession()
}

// OpenSession establishes the connection: dial for a client session, accept
// for a server session. timeout bounds the whole operation.
func (m *Manager) OpenSession(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	s, client, target, fp, ln := m.session, m.client, m.dialTarget, m.fingerprint, m.listener
	m.mu.Unlock()

	if s == nil {
		return ErrNoSession
	}
	if err := s.setOpening(); err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var conn net.Conn
	var err error
	if client {
		if m.log != nil {
			m.log.Debugf("connecting to %s", target)
		}
		conn, err = m.config.Factory.Dial(ctx, target)
		if err == nil {
			if verr := transport.VerifyConnFingerprint(conn, fp); verr != nil {
				conn.Close()
				err = verr
			}
		}
	} else {
		conn, err = accept(ctx, ln)
		// One connection per media session.
		m.closeListener()
	}
	if err != nil {
		s.shutdown()
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrOpenTimeout, err)
		}
		return err
	}
	return s.Attach(conn)
}

func accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		ln.Close()
		if r := <-ch; r.conn != nil {
			r.conn.Close()
		}
		return nil, ctx.Err()
	}
}

// SendChunks streams r on the current session.
func (m *Manager) SendChunks(r io.Reader, msgID, contentType string, total int64) error {
	s := m.Session()
	if s == nil {
		return ErrNoSession
	}
	return s.SendChunks(r, msgID, contentType, total)
}

// SendEmptyChunk sends the connection-binding SEND on the current session.
func (m *Manager) SendEmptyChunk(ctx context.Context) error {
	s := m.Session()
	if s == nil {
		return ErrNoSession
	}
	return s.SendEmptyChunk(ctx)
}

// WaitBound waits until the peer has bound the current session's connection.
func (m *Manager) WaitBound(ctx context.Context) error {
	s := m.Session()
	if s == nil {
		return ErrNoSession
	}
	return s.WaitBound(ctx)
}

func (m *Manager) closeListener() {
	m.mu.Lock()
	ln := m.listener
	m.listener = nil
	m.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
}

// CloseSession closes the session and any listener. It is idempotent.
func (m *Manager) CloseSession() {
	m.mu.Lock()
	m.closed = true
	s := m.session
	m.mu.Unlock()

	m.closeListener()
	if s != nil {
		s.Close()
	}
}
