package sharing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/backkem/rcs/pkg/negotiation"
	"github.com/backkem/rcs/pkg/transport"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Default timeouts.
const (
	DefaultRingingPeriod = 120 * time.Second
	DefaultAckTimeout    = 32 * time.Second
	DefaultSocketTimeout = 30 * time.Second
)

// DefaultSupportedEncodings is the content accepted when none is configured.
var DefaultSupportedEncodings = []string{"image/*"}

// Config configures a Manager.
type Config struct {
	// LocalHost is the address of the media endpoint. Required.
	LocalHost string

	// LocalIdentity is the From of outgoing invitations.
	LocalIdentity string

	// Signaling carries the SIP messages. Required.
	Signaling Signaling

	// Capabilities answers thumbnail support and refreshes capabilities
	// after a failed transfer. Optional.
	Capabilities Capabilities

	// Limits feed admission control of incoming sessions. Optional.
	Limits Limits

	// Sink stores received content.
	// Default: a MemorySink
	Sink ContentSink

	// Factory opens media connections.
	// Default: a transport.NetFactory
	Factory transport.Factory

	// Secured offers MSRP over TLS.
	Secured bool

	// OfferRole is the setup role of outgoing offers.
	// Default: negotiation.SetupActive
	OfferRole negotiation.SetupRole

	// ActivePort is the placeholder port of an active endpoint.
	// Default: negotiation.DefaultActivePort
	ActivePort int

	// ChunkSize bounds one MSRP chunk.
	// Default: msrp.DefaultChunkSize
	ChunkSize int

	// RingingPeriod bounds the wait for an invitation answer.
	// Default: DefaultRingingPeriod
	RingingPeriod time.Duration

	// AckTimeout bounds the wait for the ACK to a 200 OK.
	// Default: DefaultAckTimeout
	AckTimeout time.Duration

	// SocketTimeout bounds media connection setup, chunk acknowledgements
	// and each signaling send.
	// Default: DefaultSocketTimeout
	SocketTimeout time.Duration

	// AdmitOnAccept defers admission control of incoming sessions until
	// the user accepts. By default invitations are checked on arrival.
	AdmitOnAccept bool

	// SupportedEncodings lists accepted MIME patterns such as "image/*".
	// Default: DefaultSupportedEncodings
	SupportedEncodings []string

	// MaxSessions limits concurrent sessions.
	// Default: DefaultMaxSessions
	MaxSessions int

	// OnIncoming is called for each new incoming session before it starts,
	// typically to add a listener.
	OnIncoming func(s *Session)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.Sink == nil {
		c.Sink = NewMemorySink()
	}
	if c.Factory == nil {
		c.Factory = transport.NewNetFactory(transport.NetConfig{LoggerFactory: c.LoggerFactory})
	}
	if !c.OfferRole.IsValid() {
		c.OfferRole = negotiation.SetupActive
	}
	if c.ActivePort <= 0 {
		c.ActivePort = negotiation.DefaultActivePort
	}
	if c.RingingPeriod <= 0 {
		c.RingingPeriod = DefaultRingingPeriod
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.SocketTimeout <= 0 {
		c.SocketTimeout = DefaultSocketTimeout
	}
	if len(c.SupportedEncodings) == 0 {
		c.SupportedEncodings = DefaultSupportedEncodings
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.LocalHost == "" {
		return fmt.Errorf("sharing: local host required")
	}
	if c.Signaling == nil {
		return fmt.Errorf("sharing: signaling required")
	}
	if c.OfferRole == negotiation.SetupHoldConn {
		return fmt.Errorf("sharing: cannot offer %s", c.OfferRole)
	}
	return nil
}

// Manager creates sessions and routes inbound signaling to them. Terminal
// sessions leave the table once their last callback has run.
type Manager struct {
	config Config
	table  *Table
	log    logging.LeveledLogger

	mu     sync.Mutex
	closed bool
}

// NewManager validates config and creates a manager.
func NewManager(config Config) (*Manager, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		config: config,
		table:  NewTable(config.MaxSessions),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("sharing")
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// InitiateSharing starts an outgoing session that offers content to remote.
// thumbnail may be nil. The session runs in the background; listeners see
// every event from Ringing on.
func (m *Manager) InitiateSharing(ctx context.Context, remote string, content *ContentDescriptor, thumbnail *ThumbnailDescriptor, listeners ...Listener) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	if content == nil || content.Source == nil {
		return nil, ErrNoContent
	}
	if content.Encoding == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnsupportedEncoding)
	}

	s := newSession(&m.config, DirectionOutgoing, m.newCallID(), remote, content)
	s.thumbnail = thumbnail
	for _, l := range listeners {
		s.AddListener(l)
	}
	if err := m.add(s); err != nil {
		s.cancel()
		return nil, err
	}
	if m.log != nil {
		m.log.Infof("outgoing session %s to %s", s.id, remote)
	}
	s.start()
	return s, nil
}

// ReceiveInvitation creates the incoming session of inv. An offer that
// cannot be parsed, or whose encoding is not supported, still yields a
// session: it answers 415 and fails without an invitation event.
func (m *Manager) ReceiveInvitation(inv *Invitation) (*Session, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	if inv == nil || inv.CallID == "" {
		return nil, fmt.Errorf("sharing: invitation without call id")
	}

	var (
		content  *ContentDescriptor
		thumb    *ThumbnailDescriptor
		offerErr error
	)
	offer, err := negotiation.ParseOffer(inv.Body, inv.ContentType)
	switch {
	case err != nil:
		offerErr = err
	case !encodingSupported(offer.Encoding(), m.config.SupportedEncodings):
		offerErr = fmt.Errorf("%w: %q", ErrUnsupportedEncoding, offer.Encoding())
	default:
		content = &ContentDescriptor{
			Encoding: offer.Encoding(),
			Size:     offer.Selector.Size,
			Name:     offer.Selector.Name,
			URI:      offer.Location,
		}
		if offer.Thumbnail != nil {
			thumb = &ThumbnailDescriptor{ContentDescriptor{
				Encoding: offer.Thumbnail.ContentType,
				Size:     int64(len(offer.Thumbnail.Data)),
				Source:   BufferSource(offer.Thumbnail.Data),
			}}
		}
	}

	s := newSession(&m.config, DirectionIncoming, inv.CallID, inv.From, content)
	s.offer = offer
	s.offerErr = offerErr
	s.thumbnail = thumb
	if offer != nil {
		s.transferID = offer.TransferID
	}
	s.dialog.RemoteContent = string(inv.Body)
	s.dialog.RemoteTag = inv.FromTag
	if err := m.add(s); err != nil {
		s.cancel()
		if errors.Is(err, ErrTableFull) {
			m.busy(inv.CallID)
		}
		return nil, err
	}
	if m.log != nil {
		m.log.Infof("incoming session %s from %s", s.id, inv.From)
	}
	if offerErr == nil && m.config.OnIncoming != nil {
		m.config.OnIncoming(s)
	}
	s.start()
	return s, nil
}

// busy turns away an invitation that no session was created for.
func (m *Manager) busy(callID string) {
	if m.log != nil {
		m.log.Warnf("session table full, rejecting call %s", callID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.SocketTimeout)
	defer cancel()
	err := m.config.Signaling.SendResponse(ctx, callID, &Response{StatusCode: StatusBusyHere, Reason: "Busy Here"})
	if err != nil && m.log != nil {
		m.log.Debugf("call %s: send %d: %v", callID, StatusBusyHere, err)
	}
}

func (m *Manager) add(s *Session) error {
	s.onTerminal = func(s *Session) { m.table.Remove(s.id) }
	return m.table.Add(s)
}

func (m *Manager) newCallID() string {
	return uuid.NewString() + "@" + m.config.LocalHost
}

func (m *Manager) byCallID(callID string) (*Session, error) {
	s := m.table.FindByCallID(callID)
	if s == nil {
		return nil, fmt.Errorf("%w: call %s", ErrSessionNotFound, callID)
	}
	return s, nil
}

// HandleResponse routes a response to the outgoing session of callID.
func (m *Manager) HandleResponse(callID string, resp *Response) error {
	s, err := m.byCallID(callID)
	if err != nil {
		return err
	}
	s.HandleResponse(resp)
	return nil
}

// HandleAck routes an ACK to the incoming session of callID.
func (m *Manager) HandleAck(callID string) error {
	s, err := m.byCallID(callID)
	if err != nil {
		return err
	}
	s.HandleAck()
	return nil
}

// HandleCancel routes a CANCEL to the incoming session of callID.
func (m *Manager) HandleCancel(callID string) error {
	s, err := m.byCallID(callID)
	if err != nil {
		return err
	}
	s.HandleCancel()
	return nil
}

// HandleBye routes a BYE to the session of callID.
func (m *Manager) HandleBye(callID string) error {
	s, err := m.byCallID(callID)
	if err != nil {
		return err
	}
	s.HandleBye()
	return nil
}

// Session returns the live session with id, or nil.
func (m *Manager) Session(id string) *Session {
	return m.table.FindByID(id)
}

// SessionByCallID returns the live session of a dialog, or nil.
func (m *Manager) SessionByCallID(callID string) *Session {
	return m.table.FindByCallID(callID)
}

// Sessions returns the live sessions.
func (m *Manager) Sessions() []*Session {
	return m.table.Snapshot()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	return m.table.Count()
}

// Close aborts every live session and waits for their terminal callbacks,
// bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	sessions := m.table.Snapshot()
	for _, s := range sessions {
		s.AbortSession()
	}
	for _, s := range sessions {
		if _, err := s.Wait(ctx); err != nil {
			return err
		}
		select {
		case <-s.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
