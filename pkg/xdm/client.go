// Package xdm implements an XCAP document-sync client for the presence
// documents of an IMS subscriber.
//
// Requests are written as plain HTTP/1.1 over a transport.Factory connection,
// one connection per request. The client answers Digest challenges with an
// auth.Agent, keeps the session cookie handed out by the server and caches
// document ETags so updates are conditional.
package xdm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/backkem/rcs/pkg/auth"
	"github.com/backkem/rcs/pkg/transport"
	"github.com/pion/logging"
)

// Defaults.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "rcs-xdm/1.0"
)

// Config configures a Client.
type Config struct {
	// ServerAddr is the XCAP root, e.g. "http://xdms.example.com:8080/services".
	ServerAddr string

	// Login and Password are the Digest credentials.
	Login    string
	Password string

	// PublicURI is the subscriber identity the documents belong to.
	PublicURI string

	// UserAgent is sent with every request. Default: DefaultUserAgent.
	UserAgent string

	// Factory opens connections. Default: a NetFactory.
	Factory transport.Factory

	// Timeout bounds one request/response exchange. Default: 30s.
	Timeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Factory == nil {
		c.Factory = transport.NewNetFactory(transport.NetConfig{LoggerFactory: c.LoggerFactory})
	}
}

// Request is one XCAP request. URL is relative to the XCAP root.
type Request struct {
	Method      string
	URL         string
	Content     []byte
	ContentType string
}

// AUID returns the application usage id: the first segment of URL.
func (r *Request) AUID() string {
	p := strings.TrimPrefix(r.URL, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}

// Response is a parsed XCAP response. Header names are lower-cased.
type Response struct {
	StatusCode int
	Reason     string
	Header     map[string]string
	Body       []byte
}

// Get returns the value of a header, ignoring case.
func (r *Response) Get(name string) string {
	return r.Header[strings.ToLower(name)]
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client talks to one XDM server on behalf of one subscriber.
type Client struct {
	config Config
	root   *url.URL
	peer   transport.PeerAddress
	agent  *auth.Agent
	etags  *ETagTable
	log    logging.LeveledLogger

	mu     sync.Mutex
	cookie string
}

// NewClient validates config and creates a client.
func NewClient(config Config) (*Client, error) {
	config.applyDefaults()

	root, err := url.Parse(config.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServerAddr, err)
	}
	tt := transport.TransportTypeTCP
	defPort := 80
	switch root.Scheme {
	case "http":
	case "https":
		tt = transport.TransportTypeTLS
		defPort = 443
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidServerAddr, root.Scheme)
	}
	if root.Hostname() == "" {
		return nil, fmt.Errorf("%w: no host", ErrInvalidServerAddr)
	}
	port := defPort
	if p := root.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("%w: port %q", ErrInvalidServerAddr, p)
		}
	}

	c := &Client{
		config: config,
		root:   root,
		peer:   transport.PeerAddress{Host: root.Hostname(), Port: port, TransportType: tt},
		etags:  NewETagTable(),
		agent: auth.NewAgent(auth.AgentConfig{
			Credentials:   auth.Credentials{Username: config.Login, Password: config.Password},
			LoggerFactory: config.LoggerFactory,
		}),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("xdm")
	}
	return c, nil
}

// ETags returns the client's ETag table.
func (c *Client) ETags() *ETagTable {
	return c.etags
}

// ServerAddr returns the configured XCAP root.
func (c *Client) ServerAddr() string {
	return strings.TrimSuffix(c.config.ServerAddr, "/")
}

// PublicURI returns the subscriber identity.
func (c *Client) PublicURI() string {
	return c.config.PublicURI
}

// SendRequest performs req. A 401 is answered once with Digest credentials
// and a 412 is retried once without If-Match after purging the cached ETag.
// Any other non-2xx status, or the second 401/412, returns a *StatusError
// along with the response.
func (c *Client) SendRequest(ctx context.Context, req *Request) (*Response, error) {
	auid := req.AUID()
	var authRetried, etagRetried bool

	for {
		resp, err := c.exchange(ctx, req)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == 401 && !authRetried:
			authRetried = true
			if err := c.agent.ConsumeChallenge(resp.Get("www-authenticate")); err != nil {
				return resp, fmt.Errorf("%w: %v", statusError(resp), err)
			}
			if sc := resp.Get("set-cookie"); sc != "" {
				c.setCookie(sc)
			}
			if c.log != nil {
				c.log.Debugf("%s %s: 401, retrying with credentials", req.Method, req.URL)
			}
			continue

		case resp.StatusCode == 412 && !etagRetried:
			etagRetried = true
			c.etags.Remove(auid)
			if c.log != nil {
				c.log.Debugf("%s %s: 412, retrying without If-Match", req.Method, req.URL)
			}
			continue
		}

		if !resp.IsSuccess() {
			if c.log != nil {
				c.log.Warnf("%s %s: %d %s", req.Method, req.URL, resp.StatusCode, resp.Reason)
			}
			return resp, statusError(resp)
		}

		if etag := resp.Get("etag"); etag != "" && c.etags.Tracked(auid) {
			c.etags.Set(auid, etag)
		}
		return resp, nil
	}
}

func (c *Client) setCookie(setCookie string) {
	if i := strings.IndexByte(setCookie, ';'); i >= 0 {
		setCookie = setCookie[:i]
	}
	c.mu.Lock()
	c.cookie = strings.TrimSpace(setCookie)
	c.mu.Unlock()
}

func (c *Client) currentCookie() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookie
}

// requestURI is the path sent on the request line and digested.
func (c *Client) requestURI(req *Request) string {
	return strings.TrimSuffix(c.root.EscapedPath(), "/") + req.URL
}

func (c *Client) exchange(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	raw, err := c.encode(req)
	if err != nil {
		return nil, err
	}

	conn, err := c.config.Factory.Dial(ctx, c.peer)
	if err != nil {
		return nil, fmt.Errorf("xdm: dial %s: %w", c.peer, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if c.log != nil {
		c.log.Tracef("%s %s", req.Method, c.requestURI(req))
	}
	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("xdm: write request: %w", err)
	}

	resp, err := readResponse(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) encode(req *Request) ([]byte, error) {
	uri := c.requestURI(req)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, uri)
	fmt.Fprintf(&b, "Host: %s\r\n", c.peer.HostPort())
	fmt.Fprintf(&b, "User-Agent: %s\r\n", c.config.UserAgent)

	if c.agent.HasChallenge() {
		h, err := c.agent.AuthorizationHeader(req.Method, uri, req.Content)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "Authorization: %s\r\n", h)
	}
	if cookie := c.currentCookie(); cookie != "" {
		fmt.Fprintf(&b, "Cookie: %s\r\n", cookie)
	}
	fmt.Fprintf(&b, "X-3GPP-Intended-Identity: \"%s\"\r\n", c.config.Login)

	if etag, ok := c.etags.Get(req.AUID()); ok {
		fmt.Fprintf(&b, "If-Match: \"%s\"\r\n", etag)
	}
	if len(req.Content) > 0 {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", req.ContentType)
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.Content))
	} else {
		b.WriteString("Content-Length: 0\r\n")
	}
	b.WriteString("\r\n")
	b.Write(req.Content)
	return []byte(b.String()), nil
}

func readResponse(conn net.Conn) (*Response, error) {
	tp := textproto.NewReader(bufio.NewReader(conn))

	line, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("xdm: read status line: %w", err)
	}
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformedResponse, line)
	}
	codeStr, reason, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformedResponse, codeStr)
	}

	resp := &Response{StatusCode: code, Reason: reason, Header: make(map[string]string)}
	for {
		hl, err := tp.ReadLine()
		if err != nil {
			return nil, fmt.Errorf("xdm: read headers: %w", err)
		}
		if hl == "" {
			break
		}
		name, value, ok := strings.Cut(hl, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if _, dup := resp.Header[name]; !dup {
			resp.Header[name] = strings.TrimSpace(value)
		}
	}

	n, err := strconv.Atoi(resp.Header["content-length"])
	if err != nil || n <= 0 {
		return resp, nil
	}
	resp.Body = make([]byte, n)
	if _, err := io.ReadFull(tp.R, resp.Body); err != nil {
		return nil, fmt.Errorf("xdm: read body: %w", err)
	}
	return resp, nil
}
