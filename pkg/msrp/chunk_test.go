package msrp

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestChunk_EncodeSend(t *testing.T) {
	c := &Chunk{
		TransactionID: "tid1",
		Method:        MethodSend,
		ToPath:        "msrp://10.0.0.2:2855/b;tcp",
		FromPath:      "msrp://10.0.0.1:9/a;tcp",
		MessageID:     "m1",
		Range:         ByteRange{Start: 1, End: 5, Total: 10},
		HasRange:      true,
		FailureReport: "yes",
		ContentType:   "image/jpeg",
		Body:          []byte("hello"),
		Flag:          FlagMore,
	}

	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := "MSRP tid1 SEND\r\n" +
		"To-Path: msrp://10.0.0.2:2855/b;tcp\r\n" +
		"From-Path: msrp://10.0.0.1:9/a;tcp\r\n" +
		"Message-ID: m1\r\n" +
		"Byte-Range: 1-5/10\r\n" +
		"Failure-Report: yes\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"\r\n" +
		"hello\r\n" +
		"-------tid1+\r\n"
	if buf.String() != want {
		t.Errorf("Encode() =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestChunk_EncodeEmptyAndResponse(t *testing.T) {
	req := &Chunk{
		TransactionID: "t2",
		Method:        MethodSend,
		ToPath:        "to",
		FromPath:      "from",
		MessageID:     "m2",
		Flag:          FlagLast,
	}
	var buf bytes.Buffer
	req.Encode(&buf)
	want := "MSRP t2 SEND\r\nTo-Path: to\r\nFrom-Path: from\r\nMessage-ID: m2\r\n-------t2$\r\n"
	if buf.String() != want {
		t.Errorf("Encode(empty) = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	req.Response(StatusOK, "OK").Encode(&buf)
	want = "MSRP t2 200 OK\r\nTo-Path: from\r\nFrom-Path: to\r\n-------t2$\r\n"
	if buf.String() != want {
		t.Errorf("Encode(response) = %q, want %q", buf.String(), want)
	}
}

func TestReader_ReadChunk(t *testing.T) {
	var stream bytes.Buffer
	frames := []*Chunk{
		{TransactionID: "a", Method: MethodSend, ToPath: "t", FromPath: "f", MessageID: "m",
			Range: ByteRange{Start: 1, End: 4, Total: 8}, HasRange: true, ContentType: "text/plain",
			Body: []byte("ab\r\n"), Flag: FlagMore},
		{TransactionID: "b", StatusCode: 200, Comment: "OK", ToPath: "f", FromPath: "t", Flag: FlagLast},
		{TransactionID: "c", Method: MethodSend, ToPath: "t", FromPath: "f", MessageID: "m", Flag: FlagLast},
	}
	for _, f := range frames {
		f.Encode(&stream)
	}
	// Body without a byte range is delimited by the end line.
	stream.WriteString("MSRP d SEND\r\nTo-Path: t\r\nFrom-Path: f\r\nMessage-ID: m\r\nContent-Type: text/plain\r\n\r\n-------x\r\n-------d$\r\n")

	r := NewReader(&stream, 0)

	c, err := r.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if c.Method != MethodSend || string(c.Body) != "ab\r\n" || c.Flag != FlagMore || c.Range.Total != 8 {
		t.Errorf("ReadChunk() = %+v", c)
	}

	c, err = r.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if !c.IsResponse() || c.StatusCode != 200 || c.Comment != "OK" || c.ToPath != "f" {
		t.Errorf("ReadChunk() response = %+v", c)
	}

	c, err = r.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if len(c.Body) != 0 || c.HasRange || c.Flag != FlagLast {
		t.Errorf("ReadChunk() empty = %+v", c)
	}

	c, err = r.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if string(c.Body) != "-------x" || c.Flag != FlagLast {
		t.Errorf("ReadChunk() scanned body = %q flag %q", c.Body, c.Flag)
	}
}

func TestReader_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"bad start line", "HTTP/1.1 200 OK\r\n", ErrMalformed},
		{"bad header", "MSRP a SEND\r\nnocolon\r\n", ErrMalformed},
		{"bad flag", "MSRP a SEND\r\nTo-Path: t\r\n-------a!\r\n", ErrMalformed},
		{"bad range", "MSRP a SEND\r\nByte-Range: x\r\n", ErrMalformed},
		{"too large", "MSRP a SEND\r\nByte-Range: 1-99999999/99999999\r\n\r\n", ErrChunkTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.input), 0).ReadChunk()
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadChunk() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestByteRange(t *testing.T) {
	r, err := ParseByteRange("1-*/*")
	if err != nil {
		t.Fatalf("ParseByteRange() error = %v", err)
	}
	if r.End != -1 || r.Total != -1 || r.Len() != -1 {
		t.Errorf("ParseByteRange(1-*/*) = %+v", r)
	}
	if got := (ByteRange{Start: 10001, End: 20000, Total: -1}).String(); got != "10001-20000/*" {
		t.Errorf("String() = %q", got)
	}
}

func TestPath(t *testing.T) {
	p := Path{Host: "10.0.0.1", Port: 9, SessionID: "abc"}
	if p.String() != "msrp://10.0.0.1:9/abc;tcp" {
		t.Errorf("String() = %q", p.String())
	}

	secured, err := ParsePath("msrps://[::1]:2855/xyz;tcp")
	if err != nil {
		t.Fatalf("ParsePath() error = %v", err)
	}
	if !secured.Secured || secured.Host != "::1" || secured.Port != 2855 || secured.SessionID != "xyz" {
		t.Errorf("ParsePath() = %+v", secured)
	}

	for _, bad := range []string{"sip:bob@x", "msrp://h:1", "msrp://h:x/id;tcp", "msrp://h:1/;tcp", "msrp://h:1/id;udp"} {
		if _, err := ParsePath(bad); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ParsePath(%q) error = %v, want %v", bad, err, ErrInvalidPath)
		}
	}
}
