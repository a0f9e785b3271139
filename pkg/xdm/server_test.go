package xdm

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/backkem/rcs/pkg/auth"
	"github.com/backkem/rcs/pkg/transport"
	"github.com/stretchr/testify/require"
)

const (
	testLogin    = "alice"
	testPassword = "secret"
	testURI      = "sip:alice@example.com"
)

// recordedRequest is what the fake server saw.
type recordedRequest struct {
	Method string
	URI    string
	Host   string
	Header http.Header
	Body   []byte
}

// reply is the fake server's answer to one request.
type reply struct {
	Status int
	Header map[string]string
	Body   string
}

// fakeXDMS is a minimal XCAP server on a PipeNetwork. Each connection carries
// one request. Callers defer close after test.CheckRoutines.
type fakeXDMS struct {
	t       *testing.T
	network *transport.PipeNetwork
	ln      net.Listener
	handle  func(n int, r *recordedRequest) reply

	mu       sync.Mutex
	requests []*recordedRequest
	wg       sync.WaitGroup
}

func newFakeXDMS(t *testing.T, handle func(n int, r *recordedRequest) reply) *fakeXDMS {
	t.Helper()
	network := transport.NewPipeNetwork()
	ln, err := network.Listen(transport.NewTCPPeerAddress("xdms.example.com", 8080))
	require.NoError(t, err)

	s := &fakeXDMS{t: t, network: network, ln: ln, handle: handle}
	s.wg.Add(1)
	go s.serve()
	return s
}

func (s *fakeXDMS) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.serveConn(conn)
	}
}

func (s *fakeXDMS) serveConn(conn net.Conn) {
	defer conn.Close()

	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		return
	}
	body, _ := io.ReadAll(req.Body)
	rec := &recordedRequest{Method: req.Method, URI: req.RequestURI, Host: req.Host, Header: req.Header, Body: body}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	n := len(s.requests)
	s.mu.Unlock()

	rep := s.handle(n, rec)
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\n", rep.Status, http.StatusText(rep.Status))
	for k, v := range rep.Header {
		fmt.Fprintf(conn, "%s: %s\r\n", k, v)
	}
	if rep.Body != "" {
		fmt.Fprintf(conn, "Content-Length: %d\r\n", len(rep.Body))
	}
	fmt.Fprint(conn, "\r\n", rep.Body)
}

func (s *fakeXDMS) close() {
	s.ln.Close()
	s.network.Close()
	s.wg.Wait()
}

func (s *fakeXDMS) Requests() []*recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*recordedRequest(nil), s.requests...)
}

func (s *fakeXDMS) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Config{
		ServerAddr: "http://xdms.example.com:8080/services",
		Login:      testLogin,
		Password:   testPassword,
		PublicURI:  testURI,
		Factory:    s.network,
	})
	require.NoError(t, err)
	return c
}

// digestGate answers unauthenticated requests with a challenge and hands
// verified ones to next.
func digestGate(next func(n int, r *recordedRequest) reply) func(int, *recordedRequest) reply {
	return func(n int, r *recordedRequest) reply {
		h := r.Header.Get("Authorization")
		if h == "" || auth.VerifyAuthorization(h, r.Method, testPassword, r.Body) != nil {
			return reply{Status: 401, Header: map[string]string{
				"WWW-Authenticate": `Digest realm="example.com", nonce="n1", qop="auth", opaque="op"`,
				"Set-Cookie":       "JSESSIONID=abc123; Path=/services",
			}}
		}
		return next(n, r)
	}
}
