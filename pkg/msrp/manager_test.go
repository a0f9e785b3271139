package msrp

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/backkem/rcs/pkg/transport"
)

func TestNewManager(t *testing.T) {
	n := transport.NewPipeNetwork()
	defer n.Close()

	if _, err := NewManager(ManagerConfig{Factory: n}); err == nil {
		t.Error("NewManager() without local host succeeded")
	}
	if _, err := NewManager(ManagerConfig{LocalHost: "h"}); err == nil {
		t.Error("NewManager() without factory succeeded")
	}

	m, err := NewManager(ManagerConfig{LocalHost: "10.0.0.1", Factory: n, Secured: true})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if m.LocalProtocol() != transport.ProtocolTLS {
		t.Errorf("LocalProtocol() = %q, want %q", m.LocalProtocol(), transport.ProtocolTLS)
	}
	m.UseFixedPort(9)
	if !strings.HasPrefix(m.LocalPath(), "msrps://10.0.0.1:9/") {
		t.Errorf("LocalPath() = %q", m.LocalPath())
	}
}

func TestManager_PassiveActive(t *testing.T) {
	n := transport.NewPipeNetwork()
	defer n.Close()

	passive, _ := NewManager(ManagerConfig{LocalHost: "10.0.0.2", Factory: n, ChunkSize: 500})
	active, _ := NewManager(ManagerConfig{LocalHost: "10.0.0.1", Factory: n, ChunkSize: 500})
	defer passive.CloseSession()
	defer active.CloseSession()

	// Passive side listens before its description is sent.
	port, err := passive.Listen()
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if again, _ := passive.Listen(); again != port {
		t.Errorf("second Listen() = %d, want %d", again, port)
	}
	active.UseFixedPort(9)

	rcv := newRecorder()
	if _, err := passive.CreateServerSession(active.LocalPath(), rcv); err != nil {
		t.Fatalf("CreateServerSession() error = %v", err)
	}
	snd := newRecorder()
	if _, err := active.CreateClientSession(transport.NewTCPPeerAddress("10.0.0.2", port), passive.LocalPath(), snd, ""); err != nil {
		t.Fatalf("CreateClientSession() error = %v", err)
	}

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- passive.OpenSession(context.Background(), time.Second) }()

	if err := active.OpenSession(context.Background(), time.Second); err != nil {
		t.Fatalf("OpenSession(active) error = %v", err)
	}
	if err := <-acceptErr; err != nil {
		t.Fatalf("OpenSession(passive) error = %v", err)
	}
	if n.ListenerCount() != 0 {
		t.Errorf("listener left open after accept")
	}

	if err := active.SendEmptyChunk(context.Background()); err != nil {
		t.Fatalf("SendEmptyChunk() error = %v", err)
	}

	data := payload(1234)
	if err := active.SendChunks(bytes.NewReader(data), "m", "image/jpeg", int64(len(data))); err != nil {
		t.Fatalf("SendChunks() error = %v", err)
	}
	snd.wait(t)
	rcv.wait(t)
	if !bytes.Equal(rcv.data.Bytes(), data) {
		t.Errorf("received %d bytes, want %d", rcv.data.Len(), len(data))
	}
	if rcv.types[0] != "image/jpeg" {
		t.Errorf("content type = %q", rcv.types[0])
	}
}

func TestManager_OpenErrors(t *testing.T) {
	n := transport.NewPipeNetwork()
	defer n.Close()

	t.Run("no session", func(t *testing.T) {
		m, _ := NewManager(ManagerConfig{LocalHost: "h", Factory: n})
		if err := m.OpenSession(context.Background(), time.Second); !errors.Is(err, ErrNoSession) {
			t.Errorf("OpenSession() error = %v, want %v", err, ErrNoSession)
		}
		if err := m.SendEmptyChunk(context.Background()); !errors.Is(err, ErrNoSession) {
			t.Errorf("SendEmptyChunk() error = %v, want %v", err, ErrNoSession)
		}
	})

	t.Run("server session requires listen", func(t *testing.T) {
		m, _ := NewManager(ManagerConfig{LocalHost: "h", Factory: n})
		if _, err := m.CreateServerSession("p", newRecorder()); err == nil {
			t.Error("CreateServerSession() without Listen succeeded")
		}
	})

	t.Run("accept timeout", func(t *testing.T) {
		m, _ := NewManager(ManagerConfig{LocalHost: "h", Factory: n})
		defer m.CloseSession()
		m.Listen()
		s, _ := m.CreateServerSession("p", newRecorder())
		err := m.OpenSession(context.Background(), 30*time.Millisecond)
		if !errors.Is(err, ErrOpenTimeout) {
			t.Errorf("OpenSession() error = %v, want %v", err, ErrOpenTimeout)
		}
		if s.State() != StateClosed {
			t.Errorf("State() = %v, want %v", s.State(), StateClosed)
		}
	})

	t.Run("dial refused", func(t *testing.T) {
		m, _ := NewManager(ManagerConfig{LocalHost: "h", Factory: n})
		m.CreateClientSession(transport.NewTCPPeerAddress("nobody", 1), "p", newRecorder(), "")
		if err := m.OpenSession(context.Background(), time.Second); !errors.Is(err, transport.ErrConnectionRefused) {
			t.Errorf("OpenSession() error = %v, want %v", err, transport.ErrConnectionRefused)
		}
	})

	t.Run("closed manager", func(t *testing.T) {
		m, _ := NewManager(ManagerConfig{LocalHost: "h", Factory: n})
		m.CloseSession()
		m.CloseSession()
		if _, err := m.Listen(); !errors.Is(err, ErrClosed) {
			t.Errorf("Listen() error = %v, want %v", err, ErrClosed)
		}
	})
}
