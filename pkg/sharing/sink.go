package sharing

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ContentSink stores received content.
type ContentSink interface {
	// Create opens a writer for one incoming payload.
	Create(content *ContentDescriptor) (SinkWriter, error)
}

// SinkWriter receives the chunks of one payload. Exactly one of Commit or
// Discard ends it.
type SinkWriter interface {
	Write(p []byte) (int, error)
	// Commit makes the payload visible and returns its locator.
	Commit() (string, error)
	// Discard deletes everything written so far.
	Discard() error
}

// FileSink writes payloads into a directory. Data goes to a hidden temporary
// file that is renamed on commit, so a partial payload never appears under
// its final name.
type FileSink struct {
	Dir string

	mu sync.Mutex
}

// NewFileSink creates a sink writing into dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

// Create opens a temporary file in the sink directory.
func (s *FileSink) Create(content *ContentDescriptor) (SinkWriter, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(s.Dir, ".partial-*")
	if err != nil {
		return nil, err
	}
	name := "content"
	if content != nil && content.Name != "" {
		name = filepath.Base(filepath.Clean(content.Name))
	}
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".partial-") {
		name = "content"
	}
	return &fileWriter{sink: s, f: f, name: name}, nil
}

// finalPath picks a free name, appending " (n)" before the extension on collision.
func (s *FileSink) finalPath(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	p := filepath.Join(s.Dir, name)
	for i := 1; ; i++ {
		if _, err := os.Lstat(p); os.IsNotExist(err) {
			return p
		}
		p = filepath.Join(s.Dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
}

type fileWriter struct {
	sink *FileSink
	f    *os.File
	name string
	done bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, ErrSinkClosed
	}
	return w.f.Write(p)
}

func (w *fileWriter) Commit() (string, error) {
	if w.done {
		return "", ErrSinkClosed
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return "", err
	}

	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	final := w.sink.finalPath(w.name)
	if err := os.Rename(w.f.Name(), final); err != nil {
		os.Remove(w.f.Name())
		return "", err
	}
	return final, nil
}

func (w *fileWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	return os.Remove(w.f.Name())
}

// MemorySink keeps committed payloads in memory, keyed by locator.
type MemorySink struct {
	mu    sync.Mutex
	items map[string][]byte
	seq   int
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{items: make(map[string][]byte)}
}

// Create opens an in-memory writer.
func (s *MemorySink) Create(content *ContentDescriptor) (SinkWriter, error) {
	name := "content"
	if content != nil && content.Name != "" {
		name = content.Name
	}
	return &memoryWriter{sink: s, name: name}, nil
}

// Get returns the payload committed under locator.
func (s *MemorySink) Get(locator string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.items[locator]
	return b, ok
}

// Len returns the number of committed payloads.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type memoryWriter struct {
	sink *MemorySink
	name string
	buf  bytes.Buffer
	done bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, ErrSinkClosed
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Commit() (string, error) {
	if w.done {
		return "", ErrSinkClosed
	}
	w.done = true
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	w.sink.seq++
	locator := fmt.Sprintf("memory:%d/%s", w.sink.seq, w.name)
	w.sink.items[locator] = w.buf.Bytes()
	return locator, nil
}

func (w *memoryWriter) Discard() error {
	w.done = true
	w.buf.Reset()
	return nil
}
