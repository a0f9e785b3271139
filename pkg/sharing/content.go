package sharing

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Source opens the bytes of a content descriptor.
type Source interface {
	Open() (io.ReadCloser, error)
}

// BufferSource serves content held in memory.
type BufferSource []byte

// Open returns a reader over the buffer.
func (b BufferSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// FileSource opens a file lazily, when the transfer starts.
type FileSource string

// Open opens the file.
func (f FileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}

// ContentDescriptor describes the shared payload. It is not modified once a
// session owns it.
type ContentDescriptor struct {
	// Encoding is the MIME type.
	Encoding string
	// Size is the byte size, or -1 when unknown.
	Size int64
	// Name is the file name announced to the peer.
	Name string
	// URI optionally locates the content.
	URI string
	// Source provides the bytes. Nil on the receiving side.
	Source Source
}

// NewBufferContent describes an in-memory payload.
func NewBufferContent(name, encoding string, data []byte) *ContentDescriptor {
	return &ContentDescriptor{
		Encoding: encoding,
		Size:     int64(len(data)),
		Name:     name,
		Source:   BufferSource(data),
	}
}

// NewFileContent describes a file. An empty encoding is guessed from the
// file extension.
func NewFileContent(path, encoding string) (*ContentDescriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("sharing: %s is a directory", path)
	}
	if encoding == "" {
		encoding = mime.TypeByExtension(filepath.Ext(abs))
		if i := strings.IndexByte(encoding, ';'); i >= 0 {
			encoding = encoding[:i]
		}
	}
	if encoding == "" {
		encoding = "application/octet-stream"
	}
	return &ContentDescriptor{
		Encoding: encoding,
		Size:     fi.Size(),
		Name:     fi.Name(),
		URI:      "file://" + filepath.ToSlash(abs),
		Source:   FileSource(abs),
	}, nil
}

// ThumbnailDescriptor is a small preview carried inside the offer.
type ThumbnailDescriptor struct {
	ContentDescriptor
}

// MaxThumbnailSize bounds the bytes read from a thumbnail source.
const MaxThumbnailSize = 64 << 10

func (t *ThumbnailDescriptor) load() ([]byte, error) {
	if t.Source == nil {
		return nil, ErrNoContent
	}
	rc, err := t.Source.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxThumbnailSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxThumbnailSize {
		return nil, fmt.Errorf("sharing: thumbnail larger than %d bytes", MaxThumbnailSize)
	}
	return data, nil
}

// encodingSupported matches encoding against patterns such as "image/*".
// "*" and "*/*" match everything; an empty encoding never matches.
func encodingSupported(encoding string, patterns []string) bool {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" {
		return false
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "*" || p == "*/*":
			return true
		case strings.HasSuffix(p, "/*"):
			if strings.HasPrefix(encoding, strings.TrimSuffix(p, "*")) {
				return true
			}
		case p == encoding:
			return true
		}
	}
	return false
}
