package msrp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ByteRange is the Byte-Range header value. Positions are 1-based and inclusive.
// A negative End or Total encodes "*" (unknown).
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// String encodes the range as "start-end/total".
func (r ByteRange) String() string {
	end, total := "*", "*"
	if r.End >= 0 {
		end = strconv.FormatInt(r.End, 10)
	}
	if r.Total >= 0 {
		total = strconv.FormatInt(r.Total, 10)
	}
	return fmt.Sprintf("%d-%s/%s", r.Start, end, total)
}

// Len returns the number of bytes covered, or -1 when the end is unknown.
func (r ByteRange) Len() int64 {
	if r.End < 0 || r.End < r.Start {
		return -1
	}
	return r.End - r.Start + 1
}

// ParseByteRange decodes a Byte-Range header value.
func ParseByteRange(s string) (ByteRange, error) {
	dash := strings.IndexByte(s, '-')
	slash := strings.IndexByte(s, '/')
	if dash <= 0 || slash < dash {
		return ByteRange{}, fmt.Errorf("%w: byte range %q", ErrMalformed, s)
	}
	start, err := strconv.ParseInt(strings.TrimSpace(s[:dash]), 10, 64)
	if err != nil || start < 1 {
		return ByteRange{}, fmt.Errorf("%w: byte range %q", ErrMalformed, s)
	}
	r := ByteRange{Start: start, End: -1, Total: -1}
	if end := strings.TrimSpace(s[dash+1 : slash]); end != "*" {
		if r.End, err = strconv.ParseInt(end, 10, 64); err != nil {
			return ByteRange{}, fmt.Errorf("%w: byte range %q", ErrMalformed, s)
		}
	}
	if total := strings.TrimSpace(s[slash+1:]); total != "*" {
		if r.Total, err = strconv.ParseInt(total, 10, 64); err != nil {
			return ByteRange{}, fmt.Errorf("%w: byte range %q", ErrMalformed, s)
		}
	}
	return r, nil
}

// Chunk is one MSRP request or response frame.
type Chunk struct {
	// TransactionID ties a response to its request and names the end line.
	TransactionID string
	// Method is set for requests (SEND, REPORT).
	Method string
	// StatusCode and Comment are set for responses.
	StatusCode int
	Comment    string

	ToPath    string
	FromPath  string
	MessageID string
	// Range is meaningful only when HasRange is set.
	Range    ByteRange
	HasRange bool

	ContentType   string
	FailureReport string

	Body []byte
	Flag Flag
}

// IsResponse reports whether the chunk is a response.
func (c *Chunk) IsResponse() bool {
	return c.Method == ""
}

// Encode writes the wire form of the chunk to w in a single Write call.
func (c *Chunk) Encode(w io.Writer) error {
	var b bytes.Buffer
	b.Grow(len(c.Body) + 256)

	b.WriteString(Protocol)
	b.WriteByte(' ')
	b.WriteString(c.TransactionID)
	if c.IsResponse() {
		fmt.Fprintf(&b, " %03d", c.StatusCode)
		if c.Comment != "" {
			b.WriteByte(' ')
			b.WriteString(c.Comment)
		}
	} else {
		b.WriteByte(' ')
		b.WriteString(c.Method)
	}
	b.WriteString(crlf)

	writeHeader(&b, HeaderToPath, c.ToPath)
	writeHeader(&b, HeaderFromPath, c.FromPath)
	writeHeader(&b, HeaderMessageID, c.MessageID)
	if c.HasRange {
		writeHeader(&b, HeaderByteRange, c.Range.String())
	}
	writeHeader(&b, HeaderFailureReport, c.FailureReport)

	if len(c.Body) > 0 {
		writeHeader(&b, HeaderContentType, c.ContentType)
		b.WriteString(crlf)
		b.Write(c.Body)
		b.WriteString(crlf)
	}

	flag := c.Flag
	if !flag.IsValid() {
		flag = FlagLast
	}
	b.WriteString(endLinePrefix)
	b.WriteString(c.TransactionID)
	b.WriteByte(byte(flag))
	b.WriteString(crlf)

	_, err := w.Write(b.Bytes())
	return err
}

func writeHeader(b *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString(crlf)
}

// Response builds the 200 OK (or other status) response to a request chunk.
// To-Path and From-Path are swapped relative to the request.
func (c *Chunk) Response(code int, comment string) *Chunk {
	return &Chunk{
		TransactionID: c.TransactionID,
		StatusCode:    code,
		Comment:       comment,
		ToPath:        c.FromPath,
		FromPath:      c.ToPath,
		Flag:          FlagLast,
	}
}

// Reader decodes chunks from a byte stream.
type Reader struct {
	r       *bufio.Reader
	maxBody int
}

// NewReader creates a Reader that rejects bodies larger than maxBody bytes.
// A non-positive maxBody selects MaxChunkBodySize.
func NewReader(r io.Reader, maxBody int) *Reader {
	if maxBody <= 0 {
		maxBody = MaxChunkBodySize
	}
	return &Reader{r: bufio.NewReaderSize(r, 16*1024), maxBody: maxBody}
}

// ReadChunk reads the next complete frame.
func (r *Reader) ReadChunk() (*Chunk, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	c, err := parseStartLine(line)
	if err != nil {
		return nil, err
	}
	endLine := endLinePrefix + c.TransactionID

	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(line, endLine) {
			return c, setFlag(c, line[len(endLine):])
		}
		if line == "" {
			break
		}
		if err := c.setHeader(line); err != nil {
			return nil, err
		}
	}

	if c.HasRange && c.Range.Len() >= 0 {
		n := c.Range.Len()
		if n > int64(r.maxBody) {
			return nil, ErrChunkTooLarge
		}
		c.Body = make([]byte, n)
		if _, err := io.ReadFull(r.r, c.Body); err != nil {
			return nil, err
		}
		// Body is followed by CRLF and the end line.
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if line != "" {
			return nil, fmt.Errorf("%w: body longer than byte range", ErrMalformed)
		}
		line, err = r.readLine()
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(line, endLine) {
			return nil, fmt.Errorf("%w: missing end line", ErrMalformed)
		}
		return c, setFlag(c, line[len(endLine):])
	}

	body, flag, err := r.scanBody(crlf + endLine)
	if err != nil {
		return nil, err
	}
	c.Body = body
	return c, setFlag(c, flag)
}

// scanBody reads until delim and returns the bytes before it plus the rest of the end line.
func (r *Reader) scanBody(delim string) ([]byte, string, error) {
	var body []byte
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return nil, "", err
		}
		body = append(body, b)
		if len(body) > r.maxBody+len(delim) {
			return nil, "", ErrChunkTooLarge
		}
		if b == delim[len(delim)-1] && bytes.HasSuffix(body, []byte(delim)) {
			rest, err := r.readLine()
			if err != nil {
				return nil, "", err
			}
			return body[:len(body)-len(delim)], rest, nil
		}
	}
}

func (r *Reader) readLine() (string, error) {
	var line []byte
	for {
		frag, isPrefix, err := r.r.ReadLine()
		if err != nil {
			return "", err
		}
		line = append(line, frag...)
		if len(line) > maxLineLength {
			return "", fmt.Errorf("%w: line too long", ErrMalformed)
		}
		if !isPrefix {
			return string(line), nil
		}
	}
}

func parseStartLine(line string) (*Chunk, error) {
	parts := strings.SplitN(line, " ", 4)
	if len(parts) < 3 || parts[0] != Protocol || parts[1] == "" {
		return nil, fmt.Errorf("%w: start line %q", ErrMalformed, line)
	}
	c := &Chunk{TransactionID: parts[1]}
	if code, err := strconv.Atoi(parts[2]); err == nil && len(parts[2]) == 3 {
		c.StatusCode = code
		if len(parts) == 4 {
			c.Comment = parts[3]
		}
		return c, nil
	}
	c.Method = parts[2]
	return c, nil
}

func (c *Chunk) setHeader(line string) error {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return fmt.Errorf("%w: header %q", ErrMalformed, line)
	}
	name := strings.TrimSpace(line[:colon])
	value := strings.TrimSpace(line[colon+1:])
	switch {
	case strings.EqualFold(name, HeaderToPath):
		c.ToPath = value
	case strings.EqualFold(name, HeaderFromPath):
		c.FromPath = value
	case strings.EqualFold(name, HeaderMessageID):
		c.MessageID = value
	case strings.EqualFold(name, HeaderByteRange):
		r, err := ParseByteRange(value)
		if err != nil {
			return err
		}
		c.Range, c.HasRange = r, true
	case strings.EqualFold(name, HeaderContentType):
		c.ContentType = value
	case strings.EqualFold(name, HeaderFailureReport):
		c.FailureReport = value
	}
	return nil
}

func setFlag(c *Chunk, rest string) error {
	if len(rest) != 1 || !Flag(rest[0]).IsValid() {
		return fmt.Errorf("%w: end line flag %q", ErrMalformed, rest)
	}
	c.Flag = Flag(rest[0])
	return nil
}

// NewTransactionID returns a random transaction or message identifier.
func NewTransactionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
