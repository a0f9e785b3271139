package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pion/logging"
)

// Factory creates stream connections.
// Implementations can provide real network connections or virtual pipes for testing.
type Factory interface {
	// Dial connects to the remote address. The context bounds connection setup only.
	Dial(ctx context.Context, addr PeerAddress) (net.Conn, error)

	// Listen opens a listener on the local address.
	// A zero port allocates an ephemeral one; read it back with PortOf(l.Addr()).
	Listen(addr PeerAddress) (net.Listener, error)
}

// DefaultDialTimeout bounds connection setup when the context has no deadline.
const DefaultDialTimeout = 30 * time.Second

// NetConfig configures a NetFactory.
type NetConfig struct {
	// TLSConfig is used for TransportTypeTLS addresses.
	// Listening with TLS requires certificates; dialing without one uses
	// an empty config and relies on fingerprint verification by the caller.
	TLSConfig *tls.Config

	// DialTimeout bounds Dial when the context has no deadline.
	// Default: DefaultDialTimeout
	DialTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NetFactory creates connections on the host network stack.
type NetFactory struct {
	tlsConfig   *tls.Config
	dialTimeout time.Duration
	log         logging.LeveledLogger
}

// NewNetFactory creates a factory backed by real sockets.
func NewNetFactory(config NetConfig) *NetFactory {
	f := &NetFactory{
		tlsConfig:   config.TLSConfig,
		dialTimeout: config.DialTimeout,
	}
	if f.dialTimeout <= 0 {
		f.dialTimeout = DefaultDialTimeout
	}
	if config.LoggerFactory != nil {
		f.log = config.LoggerFactory.NewLogger("transport")
	}
	return f
}

// Dial connects to addr over TCP or TLS.
func (f *NetFactory) Dial(ctx context.Context, addr PeerAddress) (net.Conn, error) {
	if !addr.IsValid() {
		return nil, ErrInvalidAddress
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.dialTimeout)
		defer cancel()
	}

	if f.log != nil {
		f.log.Debugf("dialing %s", addr)
	}

	switch addr.TransportType {
	case TransportTypeTCP:
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr.HostPort())
	case TransportTypeTLS:
		cfg := f.clientTLSConfig(addr.Host)
		d := tls.Dialer{Config: cfg}
		return d.DialContext(ctx, "tcp", addr.HostPort())
	default:
		return nil, ErrUnsupportedTransport
	}
}

// Listen opens a TCP or TLS listener on addr.
func (f *NetFactory) Listen(addr PeerAddress) (net.Listener, error) {
	if !addr.TransportType.IsValid() {
		return nil, ErrUnsupportedTransport
	}
	l, err := net.Listen("tcp", addr.HostPort())
	if err != nil {
		return nil, err
	}
	if addr.TransportType == TransportTypeTLS {
		if f.tlsConfig == nil || len(f.tlsConfig.Certificates) == 0 {
			l.Close()
			return nil, ErrUnsupportedTransport
		}
		l = tls.NewListener(l, f.tlsConfig)
	}

	if f.log != nil {
		f.log.Infof("listening on %s (%s)", l.Addr(), addr.TransportType)
	}
	return l, nil
}

func (f *NetFactory) clientTLSConfig(host string) *tls.Config {
	var cfg *tls.Config
	if f.tlsConfig != nil {
		cfg = f.tlsConfig.Clone()
	} else {
		// Self-signed endpoints are authenticated by the negotiated fingerprint.
		cfg = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

var _ Factory = (*NetFactory)(nil)
