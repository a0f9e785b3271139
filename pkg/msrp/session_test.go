package msrp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/backkem/rcs/pkg/transport"
	"github.com/pion/transport/v3/test"
)

// recorder collects EventListener callbacks.
type recorder struct {
	mu        sync.Mutex
	progress  []int64
	data      bytes.Buffer
	types     []string
	completed []string
	errs      []error
	codes     []int
	aborted   []string
	rejectAt  int
	done      chan struct{}
	doneOnce  sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) finish() { r.doneOnce.Do(func() { close(r.done) }) }

func (r *recorder) OnTransferProgress(current, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, current)
}

func (r *recorder) OnDataReceived(msgID string, data []byte, contentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejectAt > 0 && r.data.Len()+len(data) > r.rejectAt {
		return fmt.Errorf("sink full")
	}
	r.data.Write(data)
	r.types = append(r.types, contentType)
	return nil
}

func (r *recorder) OnTransferComplete(msgID string) {
	r.mu.Lock()
	r.completed = append(r.completed, msgID)
	r.mu.Unlock()
	r.finish()
}

func (r *recorder) OnTransferError(msgID string, code int, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.codes = append(r.codes, code)
	r.mu.Unlock()
	r.finish()
}

func (r *recorder) OnTransferAborted(msgID string) {
	r.mu.Lock()
	r.aborted = append(r.aborted, msgID)
	r.mu.Unlock()
	r.finish()
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal transfer event")
	}
}

// sessionPair connects two sessions through an in-memory network.
func sessionPair(t *testing.T, chunkSize int, sender, receiver EventListener) (*Session, *Session) {
	t.Helper()
	n := transport.NewPipeNetwork()
	t.Cleanup(func() { n.Close() })

	l, err := n.Listen(transport.NewTCPPeerAddress("10.0.0.2", 0))
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()

	client, err := n.Dial(context.Background(), transport.NewTCPPeerAddress("10.0.0.2", transport.PortOf(l.Addr())))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	server, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	a := NewSession(SessionConfig{LocalPath: "msrp://a:9/a;tcp", RemotePath: "msrp://b:1/b;tcp", Listener: sender, ChunkSize: chunkSize, ResponseTimeout: time.Second})
	b := NewSession(SessionConfig{LocalPath: "msrp://b:1/b;tcp", RemotePath: "msrp://a:9/a;tcp", Listener: receiver, ChunkSize: chunkSize, ResponseTimeout: time.Second})
	if err := a.Attach(client); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := b.Attach(server); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return a, b
}

func payload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

func TestSession_SendChunks(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	tests := []struct {
		name  string
		size  int
		total int64
	}{
		{"exact multiple", 3000, 3000},
		{"partial last chunk", 2500, 2500},
		{"single chunk", 10, 10},
		{"unknown size", 2500, -1},
		{"empty payload", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snd, rcv := newRecorder(), newRecorder()
			a, b := sessionPair(t, 1000, snd, rcv)
			defer a.Close()
			defer b.Close()

			data := payload(tt.size)
			if err := a.SendChunks(bytes.NewReader(data), "msg1", "image/png", tt.total); err != nil {
				t.Fatalf("SendChunks() error = %v", err)
			}
			snd.wait(t)
			rcv.wait(t)

			if len(snd.errs) != 0 || len(snd.completed) != 1 {
				t.Fatalf("sender completed=%v errs=%v", snd.completed, snd.errs)
			}
			if !a.Acknowledged() {
				t.Error("Acknowledged() = false after completion")
			}
			if a.BytesTransferred() != int64(tt.size) {
				t.Errorf("BytesTransferred() = %d, want %d", a.BytesTransferred(), tt.size)
			}
			if !bytes.Equal(rcv.data.Bytes(), data) {
				t.Errorf("received %d bytes, want %d", rcv.data.Len(), len(data))
			}
			if len(rcv.completed) != 1 || rcv.completed[0] != "msg1" {
				t.Errorf("receiver completed = %v", rcv.completed)
			}

			// Progress is non-decreasing and ends at the payload size.
			var prev int64
			for _, p := range snd.progress {
				if p < prev {
					t.Errorf("progress went backwards: %v", snd.progress)
				}
				prev = p
			}
			if prev != int64(tt.size) {
				t.Errorf("final progress = %d, want %d", prev, tt.size)
			}
		})
	}
}

func TestSession_ReceiverRejects(t *testing.T) {
	snd, rcv := newRecorder(), newRecorder()
	rcv.rejectAt = 1500
	a, b := sessionPair(t, 1000, snd, rcv)
	defer b.Close()

	a.SendChunks(bytes.NewReader(payload(5000)), "msg", "image/png", 5000)
	snd.wait(t)
	rcv.wait(t)

	if len(snd.errs) != 1 || snd.codes[0] != StatusStopSending {
		t.Fatalf("sender errs = %v codes = %v", snd.errs, snd.codes)
	}
	if !errors.Is(snd.errs[0], ErrChunkRejected) {
		t.Errorf("sender error = %v, want %v", snd.errs[0], ErrChunkRejected)
	}
	if a.State() != StateClosed {
		t.Errorf("State() = %v, want %v", a.State(), StateClosed)
	}
	if len(rcv.errs) != 1 {
		t.Errorf("receiver errs = %v, want one", rcv.errs)
	}
}

func TestSession_CloseAbortsSend(t *testing.T) {
	snd := newRecorder()
	// Receiver that stalls so the sender blocks mid-transfer.
	stall := &stallListener{recorder: newRecorder(), release: make(chan struct{})}
	a, b := sessionPair(t, 100, snd, stall)
	defer b.Close()
	defer close(stall.release)

	a.SendChunks(bytes.NewReader(payload(1000)), "msg", "image/png", 1000)
	time.Sleep(20 * time.Millisecond)

	a.Close()
	a.Close()
	snd.wait(t)

	if len(snd.aborted) != 1 || len(snd.errs) != 0 {
		t.Errorf("aborted = %v errs = %v, want one abort and no error", snd.aborted, snd.errs)
	}
	if err := a.SendChunks(bytes.NewReader(nil), "x", "y", 0); !errors.Is(err, ErrClosed) {
		t.Errorf("SendChunks() after Close error = %v, want %v", err, ErrClosed)
	}
}

type stallListener struct {
	*recorder
	release chan struct{}
}

func (s *stallListener) OnDataReceived(msgID string, data []byte, contentType string) error {
	<-s.release
	return nil
}

func TestSession_ResponseTimeout(t *testing.T) {
	n := transport.NewPipeNetwork()
	defer n.Close()
	l, _ := n.Listen(transport.NewTCPPeerAddress("h", 0))
	defer l.Close()

	c, _ := n.Dial(context.Background(), transport.NewTCPPeerAddress("h", transport.PortOf(l.Addr())))
	srv, _ := l.Accept()
	defer srv.Close()

	// Peer reads but never answers.
	go func() {
		r := NewReader(srv, 0)
		for {
			if _, err := r.ReadChunk(); err != nil {
				return
			}
		}
	}()

	snd := newRecorder()
	s := NewSession(SessionConfig{LocalPath: "a", RemotePath: "b", Listener: snd, ResponseTimeout: 50 * time.Millisecond})
	s.Attach(c)
	defer s.Close()

	s.SendChunks(bytes.NewReader(payload(10)), "m", "text/plain", 10)
	snd.wait(t)

	if len(snd.errs) != 1 || !errors.Is(snd.errs[0], ErrResponseTimeout) || snd.codes[0] != StatusRequestTimeout {
		t.Errorf("errs = %v codes = %v, want one response timeout", snd.errs, snd.codes)
	}
}

func TestSession_SendEmptyChunk(t *testing.T) {
	a, b := sessionPair(t, 0, newRecorder(), newRecorder())
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.SendEmptyChunk(ctx); err != nil {
		t.Fatalf("SendEmptyChunk() error = %v", err)
	}

	idle := NewSession(SessionConfig{Listener: newRecorder()})
	if err := idle.SendEmptyChunk(ctx); !errors.Is(err, ErrNotOpen) {
		t.Errorf("SendEmptyChunk() on idle session error = %v, want %v", err, ErrNotOpen)
	}
}

func TestSession_BusyAndPeerAbort(t *testing.T) {
	snd, rcv := newRecorder(), newRecorder()
	stall := &stallListener{recorder: rcv, release: make(chan struct{})}
	a, b := sessionPair(t, 100, snd, stall)
	defer a.Close()
	defer b.Close()

	a.SendChunks(bytes.NewReader(payload(1000)), "m", "x/y", 1000)
	if err := a.SendChunks(bytes.NewReader(payload(10)), "m2", "x/y", 10); !errors.Is(err, ErrBusy) {
		t.Errorf("second SendChunks() error = %v, want %v", err, ErrBusy)
	}
	close(stall.release)
	snd.wait(t)

	// Abort flag from the peer is reported as an abort.
	var buf bytes.Buffer
	(&Chunk{TransactionID: "z", Method: MethodSend, MessageID: "m3", Range: ByteRange{Start: 1, End: 1, Total: 5},
		HasRange: true, ContentType: "x/y", Body: []byte("q"), Flag: FlagAbort}).Encode(&buf)
	rcv2 := newRecorder()
	r := NewSession(SessionConfig{Listener: rcv2})
	r.handleRequest(mustRead(t, &buf))
	if len(rcv2.aborted) != 1 || rcv2.data.Len() != 0 {
		t.Errorf("aborted = %v data = %d bytes, want one abort and no data", rcv2.aborted, rcv2.data.Len())
	}
}

func TestSession_SimultaneousSends(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	// Both ends stream at once over an unbuffered connection. Each read loop
	// must keep reading while its responses are pending.
	aSnd, bSnd := newRecorder(), newRecorder()
	aRcv, bRcv := newRecorder(), newRecorder()
	a, b := sessionPair(t, 100, &duplex{out: "from-a", send: aSnd, recv: aRcv}, &duplex{out: "from-b", send: bSnd, recv: bRcv})
	defer a.Close()
	defer b.Close()

	fromA, fromB := payload(3000), payload(2000)
	if err := a.SendChunks(bytes.NewReader(fromA), "from-a", "image/png", int64(len(fromA))); err != nil {
		t.Fatalf("SendChunks(a) error = %v", err)
	}
	if err := b.SendChunks(bytes.NewReader(fromB), "from-b", "image/png", int64(len(fromB))); err != nil {
		t.Fatalf("SendChunks(b) error = %v", err)
	}
	for _, r := range []*recorder{aSnd, bSnd, aRcv, bRcv} {
		r.wait(t)
	}

	if len(aSnd.completed) != 1 || len(bSnd.completed) != 1 {
		t.Fatalf("completed a=%v b=%v errs a=%v b=%v", aSnd.completed, bSnd.completed, aSnd.errs, bSnd.errs)
	}
	if !bytes.Equal(bRcv.data.Bytes(), fromA) || !bytes.Equal(aRcv.data.Bytes(), fromB) {
		t.Errorf("received a=%d b=%d bytes, want %d and %d", aRcv.data.Len(), bRcv.data.Len(), len(fromB), len(fromA))
	}
}

// duplex routes events of the message it sends to send and the rest to recv.
type duplex struct {
	out        string
	send, recv *recorder
}

func (d *duplex) route(msgID string) *recorder {
	if msgID == d.out {
		return d.send
	}
	return d.recv
}

func (d *duplex) OnTransferProgress(current, total int64) {}

func (d *duplex) OnDataReceived(msgID string, data []byte, contentType string) error {
	return d.recv.OnDataReceived(msgID, data, contentType)
}

func (d *duplex) OnTransferComplete(msgID string) { d.route(msgID).OnTransferComplete(msgID) }

func (d *duplex) OnTransferError(msgID string, code int, err error) {
	d.route(msgID).OnTransferError(msgID, code, err)
}

func (d *duplex) OnTransferAborted(msgID string) { d.route(msgID).OnTransferAborted(msgID) }

func TestSession_WaitBound(t *testing.T) {
	a, b := sessionPair(t, 0, newRecorder(), newRecorder())
	defer a.Close()
	defer b.Close()

	select {
	case <-b.Bound():
		t.Fatal("Bound() closed before any request")
	default:
	}
	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.WaitBound(short); !errors.Is(err, ErrBindTimeout) {
		t.Errorf("WaitBound() before binding error = %v, want %v", err, ErrBindTimeout)
	}

	if err := a.SendEmptyChunk(context.Background()); err != nil {
		t.Fatalf("SendEmptyChunk() error = %v", err)
	}
	if err := b.WaitBound(context.Background()); err != nil {
		t.Errorf("WaitBound() after binding error = %v", err)
	}

	a.Close()
	idle := NewSession(SessionConfig{Listener: newRecorder()})
	idle.Close()
	if err := idle.WaitBound(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("WaitBound() on closed session error = %v, want %v", err, ErrClosed)
	}
}

func mustRead(t *testing.T, b *bytes.Buffer) *Chunk {
	t.Helper()
	c, err := NewReader(b, 0).ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	return c
}
