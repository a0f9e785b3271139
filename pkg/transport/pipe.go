package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// FirstEphemeralPort is the first port PipeNetwork hands out for port-0 listens.
const FirstEphemeralPort = 49152

// pipeBacklog is the number of dialed connections a listener queues before Dial blocks.
const pipeBacklog = 16

// PipeNetwork is an in-memory stream network.
//
// Listeners register under host:port; Dial pairs the caller with a listener
// using net.Pipe, so reads and writes are synchronous and deadlines work.
// All endpoints sharing one PipeNetwork can reach each other regardless of
// the host part of their address.
//
// Use PipeNetwork for deterministic, flaky-free tests without real network I/O.
type PipeNetwork struct {
	mu        sync.Mutex
	listeners map[string]*PipeListener
	nextPort  int
	closed    bool
}

// NewPipeNetwork creates an empty in-memory network.
func NewPipeNetwork() *PipeNetwork {
	return &PipeNetwork{
		listeners: make(map[string]*PipeListener),
		nextPort:  FirstEphemeralPort,
	}
}

// Listen registers a listener on addr. A zero port allocates the next free ephemeral port.
func (n *PipeNetwork) Listen(addr PeerAddress) (net.Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrClosed
	}
	if addr.Host == "" {
		return nil, ErrInvalidAddress
	}

	port := addr.Port
	if port == 0 {
		for {
			port = n.nextPort
			n.nextPort++
			if _, taken := n.listeners[pipeKey(addr.Host, port)]; !taken {
				break
			}
		}
	}
	key := pipeKey(addr.Host, port)
	if _, taken := n.listeners[key]; taken {
		return nil, ErrAddressInUse
	}

	l := &PipeListener{
		network:  n,
		key:      key,
		addr:     PipeAddr{Host: addr.Host, Port: port},
		acceptCh: make(chan net.Conn, pipeBacklog),
		closeCh:  make(chan struct{}),
	}
	n.listeners[key] = l
	return l, nil
}

// Dial connects to the listener registered at addr.
func (n *PipeNetwork) Dial(ctx context.Context, addr PeerAddress) (net.Conn, error) {
	if !addr.IsValid() {
		return nil, ErrInvalidAddress
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	l, ok := n.listeners[pipeKey(addr.Host, addr.Port)]
	localPort := n.nextPort
	n.nextPort++
	n.mu.Unlock()

	if !ok {
		return nil, ErrConnectionRefused
	}

	clientEnd, serverEnd := net.Pipe()
	local := PipeAddr{Host: addr.Host, Port: localPort}
	remote := l.addr

	client := &PipeConn{Conn: clientEnd, localAddr: local, remoteAddr: remote}
	server := &PipeConn{Conn: serverEnd, localAddr: remote, remoteAddr: local}

	select {
	case l.acceptCh <- server:
		return client, nil
	case <-l.closeCh:
		clientEnd.Close()
		serverEnd.Close()
		return nil, ErrConnectionRefused
	case <-ctx.Done():
		clientEnd.Close()
		serverEnd.Close()
		return nil, ctx.Err()
	}
}

// Close shuts every listener down. Established connections are left to their owners.
func (n *PipeNetwork) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	listeners := make([]*PipeListener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
	return nil
}

// ListenerCount returns the number of open listeners.
func (n *PipeNetwork) ListenerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

func (n *PipeNetwork) remove(key string) {
	n.mu.Lock()
	delete(n.listeners, key)
	n.mu.Unlock()
}

func pipeKey(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// PipeAddr is the net.Addr of a PipeNetwork endpoint.
type PipeAddr struct {
	Host string
	Port int
}

// Network returns the network name.
func (a PipeAddr) Network() string { return "pipe" }

// String returns the address in host:port form.
func (a PipeAddr) String() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// PipeListener implements net.Listener for PipeNetwork.
type PipeListener struct {
	network  *PipeNetwork
	key      string
	addr     PipeAddr
	acceptCh chan net.Conn
	closeCh  chan struct{}

	closeOnce sync.Once
}

// Accept waits for and returns the next dialed connection.
func (l *PipeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.acceptCh:
		return c, nil
	case <-l.closeCh:
		return nil, &net.OpError{Op: "accept", Net: "pipe", Addr: l.addr, Err: net.ErrClosed}
	}
}

// Close unregisters the listener and fails pending Accept calls.
// Connections queued but never accepted are closed.
func (l *PipeListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closeCh)
		l.network.remove(l.key)
		for {
			select {
			case c := <-l.acceptCh:
				c.Close()
			default:
				return
			}
		}
	})
	return nil
}

// Addr returns the listener's network address.
func (l *PipeListener) Addr() net.Addr {
	return l.addr
}

// Verify PipeListener implements net.Listener.
var _ net.Listener = (*PipeListener)(nil)

// PipeConn wraps one end of a net.Pipe with PipeNetwork addresses.
type PipeConn struct {
	net.Conn
	localAddr  PipeAddr
	remoteAddr PipeAddr
}

// LocalAddr returns the local network address.
func (c *PipeConn) LocalAddr() net.Addr {
	return c.localAddr
}

// RemoteAddr returns the remote network address.
func (c *PipeConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// SetDeadline sets both read and write deadlines.
func (c *PipeConn) SetDeadline(t time.Time) error {
	return c.Conn.SetDeadline(t)
}

var (
	_ net.Conn = (*PipeConn)(nil)
	_ Factory  = (*PipeNetwork)(nil)
)
