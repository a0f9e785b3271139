package sharing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/backkem/rcs/pkg/transport"
	"github.com/pion/logging"
)

// =============================================================================
// Exported Test Infrastructure for E2E Testing
// =============================================================================

// ErrSignalingClosed is returned by a closed LoopbackSignaling.
var ErrSignalingClosed = errors.New("sharing: signaling closed")

// MessageKind names a signaling message.
type MessageKind string

const (
	MessageInvite   MessageKind = "INVITE"
	MessageResponse MessageKind = "RESPONSE"
	MessageAck      MessageKind = "ACK"
	MessageCancel   MessageKind = "CANCEL"
	MessageBye      MessageKind = "BYE"
)

// Message is a signaling message seen by a LoopbackSignaling.
type Message struct {
	Kind   MessageKind
	CallID string
	// Response is set for MessageResponse.
	Response *Response
	// Invitation is set for MessageInvite.
	Invitation *Invitation
}

// LoopbackSignaling delivers signaling straight into a peer Manager. Messages
// are delivered in order on one goroutine, so a handler may send again
// without deadlocking.
type LoopbackSignaling struct {
	// Drop, if set, discards the messages for which it returns true.
	Drop func(Message) bool

	log logging.LeveledLogger

	mu     sync.Mutex
	peer   *Manager
	queue  []Message
	sent   []Message
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewLoopbackSignaling creates a signaling loop. Connect it to its peer
// before sending.
func NewLoopbackSignaling(loggerFactory logging.LoggerFactory) *LoopbackSignaling {
	l := &LoopbackSignaling{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if loggerFactory != nil {
		l.log = loggerFactory.NewLogger("loopback")
	}
	go l.run()
	return l
}

// Connect sets the manager receiving our messages.
func (l *LoopbackSignaling) Connect(peer *Manager) {
	l.mu.Lock()
	l.peer = peer
	l.mu.Unlock()
}

// Sent returns the messages sent so far, including dropped ones.
func (l *LoopbackSignaling) Sent() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.sent...)
}

// Responses returns the status codes sent so far, in order.
func (l *LoopbackSignaling) Responses() []int {
	var codes []int
	for _, m := range l.Sent() {
		if m.Kind == MessageResponse {
			codes = append(codes, m.Response.StatusCode)
		}
	}
	return codes
}

// Count returns how many messages of kind were sent.
func (l *LoopbackSignaling) Count(kind MessageKind) int {
	n := 0
	for _, m := range l.Sent() {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func (l *LoopbackSignaling) enqueue(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrSignalingClosed
	}
	l.sent = append(l.sent, m)
	if l.Drop != nil && l.Drop(m) {
		return nil
	}
	l.queue = append(l.queue, m)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *LoopbackSignaling) run() {
	defer close(l.done)
	for range l.wake {
		l.mu.Lock()
		batch, peer, closed := l.queue, l.peer, l.closed
		l.queue = nil
		l.mu.Unlock()

		for _, m := range batch {
			if peer != nil {
				l.deliver(peer, m)
			}
		}
		if closed {
			return
		}
	}
}

func (l *LoopbackSignaling) deliver(peer *Manager, m Message) {
	var err error
	switch m.Kind {
	case MessageInvite:
		_, err = peer.ReceiveInvitation(m.Invitation)
	case MessageResponse:
		err = peer.HandleResponse(m.CallID, m.Response)
	case MessageAck:
		err = peer.HandleAck(m.CallID)
	case MessageCancel:
		err = peer.HandleCancel(m.CallID)
	case MessageBye:
		err = peer.HandleBye(m.CallID)
	}
	if err != nil && l.log != nil {
		l.log.Debugf("%s %s: %v", m.Kind, m.CallID, err)
	}
}

// Close stops delivery after the queued messages.
func (l *LoopbackSignaling) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *LoopbackSignaling) SendInvite(ctx context.Context, inv *Invitation) error {
	return l.enqueue(ctx, Message{Kind: MessageInvite, CallID: inv.CallID, Invitation: inv})
}

func (l *LoopbackSignaling) SendResponse(ctx context.Context, callID string, resp *Response) error {
	return l.enqueue(ctx, Message{Kind: MessageResponse, CallID: callID, Response: resp})
}

func (l *LoopbackSignaling) SendAck(ctx context.Context, callID string) error {
	return l.enqueue(ctx, Message{Kind: MessageAck, CallID: callID})
}

func (l *LoopbackSignaling) SendCancel(ctx context.Context, callID string) error {
	return l.enqueue(ctx, Message{Kind: MessageCancel, CallID: callID})
}

func (l *LoopbackSignaling) SendBye(ctx context.Context, callID string) error {
	return l.enqueue(ctx, Message{Kind: MessageBye, CallID: callID})
}

var _ Signaling = (*LoopbackSignaling)(nil)

// Addresses of the two TestPair endpoints.
const (
	TestOriginatingHost = "10.0.0.1"
	TestTerminatingHost = "10.0.0.2"
)

// TestPairConfig configures a TestPair. Both configs are used as templates;
// LocalHost, Signaling and Factory are always overridden.
type TestPairConfig struct {
	Originating Config
	Terminating Config
}

// TestPair provides two managers connected by loopback signaling and an
// in-memory network.
//
// Usage:
//
//	pair, _ := sharing.NewTestPair(sharing.TestPairConfig{})
//	defer pair.Close()
//
//	s, _ := pair.Originating.InitiateSharing(ctx, "sip:bob@example.com", content, nil)
type TestPair struct {
	Network     *transport.PipeNetwork
	Originating *Manager
	Terminating *Manager

	// OriginatingSignaling carries messages from Originating to Terminating,
	// TerminatingSignaling the other way.
	OriginatingSignaling *LoopbackSignaling
	TerminatingSignaling *LoopbackSignaling
}

// NewTestPair creates two connected managers.
func NewTestPair(config TestPairConfig) (*TestPair, error) {
	p := &TestPair{Network: transport.NewPipeNetwork()}
	p.OriginatingSignaling = NewLoopbackSignaling(config.Originating.LoggerFactory)
	p.TerminatingSignaling = NewLoopbackSignaling(config.Terminating.LoggerFactory)

	oc := config.Originating
	oc.LocalHost = TestOriginatingHost
	oc.Signaling = p.OriginatingSignaling
	oc.Factory = p.Network
	if oc.LocalIdentity == "" {
		oc.LocalIdentity = "sip:alice@example.com"
	}

	tc := config.Terminating
	tc.LocalHost = TestTerminatingHost
	tc.Signaling = p.TerminatingSignaling
	tc.Factory = p.Network
	if tc.LocalIdentity == "" {
		tc.LocalIdentity = "sip:bob@example.com"
	}

	var err error
	if p.Originating, err = NewManager(oc); err != nil {
		p.closeSignaling()
		return nil, err
	}
	if p.Terminating, err = NewManager(tc); err != nil {
		p.closeSignaling()
		return nil, err
	}
	p.OriginatingSignaling.Connect(p.Terminating)
	p.TerminatingSignaling.Connect(p.Originating)
	return p, nil
}

func (p *TestPair) closeSignaling() {
	p.OriginatingSignaling.Close()
	p.TerminatingSignaling.Close()
}

// Close aborts live sessions on both sides and releases all resources.
func (p *TestPair) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Originating.Close(ctx)
	p.Terminating.Close(ctx)
	p.closeSignaling()
	p.Network.Close()
}
