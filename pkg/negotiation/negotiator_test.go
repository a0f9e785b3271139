package negotiation

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/backkem/rcs/pkg/transport"
)

func newTestNegotiator(t *testing.T, host string) *Negotiator {
	t.Helper()
	n, err := NewNegotiator(Config{LocalHost: host, MaxSize: 5000000})
	if err != nil {
		t.Fatalf("NewNegotiator() error = %v", err)
	}
	return n
}

func TestOfferRoundTrip(t *testing.T) {
	n := newTestNegotiator(t, "10.0.0.1")
	file := FileInfo{TransferID: "ft-1", Name: "holiday photo.jpg", Type: "image/jpeg", Size: 2097152}
	ep := Endpoint{Port: 9, Protocol: transport.ProtocolTCP, Path: "msrp://10.0.0.1:9/abc;tcp", Setup: SetupActive}

	tests := []struct {
		name  string
		thumb *Thumbnail
	}{
		{"plain", nil},
		{"with thumbnail", &Thumbnail{ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := n.CreateOffer(ep, file, tt.thumb)
			if err != nil {
				t.Fatalf("CreateOffer() error = %v", err)
			}
			if tt.thumb == nil && payload.ContentType != ContentTypeSDP {
				t.Errorf("ContentType = %q, want %q", payload.ContentType, ContentTypeSDP)
			}
			if tt.thumb != nil && payload.ContentType != "multipart/mixed; boundary=boundary1" {
				t.Errorf("ContentType = %q", payload.ContentType)
			}

			r, err := ParseOffer(payload.Body, payload.ContentType)
			if err != nil {
				t.Fatalf("ParseOffer() error = %v", err)
			}
			if r.TransferID != file.TransferID {
				t.Errorf("TransferID = %q, want %q", r.TransferID, file.TransferID)
			}
			if r.Encoding() != file.Type {
				t.Errorf("Encoding() = %q, want %q", r.Encoding(), file.Type)
			}
			if r.Selector.Size != file.Size || r.Selector.Name != file.Name {
				t.Errorf("Selector = %+v", r.Selector)
			}
			if r.Setup != SetupActive || r.Port != 9 || r.Host != "10.0.0.1" {
				t.Errorf("endpoint = %s:%d setup %s", r.Host, r.Port, r.Setup)
			}
			if r.Path != ep.Path || r.Direction != DirectionSendOnly || r.Disposition != "render" {
				t.Errorf("Path=%q Direction=%q Disposition=%q", r.Path, r.Direction, r.Disposition)
			}
			if tt.thumb != nil {
				if r.Thumbnail == nil || !bytes.Equal(r.Thumbnail.Data, tt.thumb.Data) || r.Thumbnail.ContentType != "image/png" {
					t.Errorf("Thumbnail = %+v", r.Thumbnail)
				}
				if r.IconCID != "image@joyn.com" {
					t.Errorf("IconCID = %q", r.IconCID)
				}
			}
		})
	}
}

func TestAnswerRoundTrip(t *testing.T) {
	orig := newTestNegotiator(t, "10.0.0.1")
	term := newTestNegotiator(t, "10.0.0.2")

	offer, _ := orig.CreateOffer(
		Endpoint{Port: 9, Protocol: transport.ProtocolTLS, Path: "msrps://10.0.0.1:9/a;tcp", Setup: SetupActive, Fingerprint: "SHA-1 AA:BB"},
		FileInfo{TransferID: "x", Name: "a.png", Type: "image/png", Size: 10}, nil)
	r, err := ParseOffer(offer.Body, offer.ContentType)
	if err != nil {
		t.Fatalf("ParseOffer() error = %v", err)
	}
	if !r.Secured() || r.Fingerprint != "SHA-1 AA:BB" {
		t.Errorf("Secured() = %v Fingerprint = %q", r.Secured(), r.Fingerprint)
	}
	if r.RemoteAddress().TransportType != transport.TransportTypeTLS {
		t.Errorf("RemoteAddress() = %v", r.RemoteAddress())
	}

	role := AnswerRole(r.Setup)
	answer, err := term.CreateAnswer(r, Endpoint{Port: 50000, Protocol: transport.ProtocolTLS, Path: "msrps://10.0.0.2:50000/b;tcp", Setup: role})
	if err != nil {
		t.Fatalf("CreateAnswer() error = %v", err)
	}
	a, err := ParseAnswer(answer.Body, answer.ContentType)
	if err != nil {
		t.Fatalf("ParseAnswer() error = %v", err)
	}
	if a.Setup != SetupPassive || a.Port != 50000 || a.MaxSize != 5000000 || a.Direction != DirectionRecvOnly {
		t.Errorf("answer = %+v", a.Description)
	}
	if got, err := ResolveOffer(SetupActive, a.Setup); err != nil || got != SetupActive {
		t.Errorf("ResolveOffer() = %v, %v", got, err)
	}
}

func TestParseOfferFailures(t *testing.T) {
	valid := "v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\n" +
		"m=message 9 TCP/MSRP *\r\n"
	attrs := map[string]string{
		"accept-types":     "a=accept-types:image/jpeg\r\n",
		"file-transfer-id": "a=file-transfer-id:ft\r\n",
		"file-selector":    "a=file-selector:name:\"a.jpg\" type:image/jpeg size:10\r\n",
		"path":             "a=path:msrp://10.0.0.1:9/a;tcp\r\n",
	}
	build := func(skip string, override map[string]string) string {
		s := valid
		for _, k := range []string{"accept-types", "file-transfer-id", "file-selector", "path"} {
			if k == skip {
				continue
			}
			if v, ok := override[k]; ok {
				s += v
				continue
			}
			s += attrs[k]
		}
		return s
	}

	if _, err := ParseOffer([]byte(build("", nil)), ContentTypeSDP); err != nil {
		t.Fatalf("ParseOffer(valid) error = %v", err)
	}

	tests := []struct {
		name string
		body string
		want error
	}{
		{"empty", "", ErrEmptyPayload},
		{"blank", "  \r\n", ErrEmptyPayload},
		{"garbage", "hello", ErrMalformed},
		{"missing transfer id", build("file-transfer-id", nil), ErrMissingTransferID},
		{"missing selector", build("file-selector", nil), ErrInvalidSelector},
		{"malformed selector", build("", map[string]string{"file-selector": "a=file-selector:name:\"a.jpg type:x\r\n"}), ErrInvalidSelector},
		{"bad size", build("", map[string]string{"file-selector": "a=file-selector:name:\"a\" type:image/jpeg size:-4\r\n"}), ErrInvalidSelector},
		{"missing path", build("path", nil), ErrMissingPath},
		{"audio only", strings.Replace(build("", nil), "m=message 9 TCP/MSRP *", "m=audio 9 RTP/AVP 0", 1), ErrMissingMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOffer([]byte(tt.body), ContentTypeSDP)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseOffer() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSetupRoles(t *testing.T) {
	tests := []struct {
		remote SetupRole
		want   SetupRole
	}{
		{SetupActive, SetupPassive},
		{SetupPassive, SetupActive},
		{SetupActPass, SetupActive},
		{SetupUnspecified, SetupActive},
	}
	for _, tt := range tests {
		if got := AnswerRole(tt.remote); got != tt.want {
			t.Errorf("AnswerRole(%q) = %v, want %v", tt.remote, got, tt.want)
		}
	}

	if _, err := ResolveOffer(SetupActive, SetupActive); !errors.Is(err, ErrRoleConflict) {
		t.Errorf("ResolveOffer(active, active) error = %v, want %v", err, ErrRoleConflict)
	}
	if got, _ := ResolveOffer(SetupActPass, SetupActive); got != SetupPassive {
		t.Errorf("ResolveOffer(actpass, active) = %v, want passive", got)
	}
	if got, _ := ResolveOffer(SetupActive, SetupUnspecified); got != SetupActive {
		t.Errorf("ResolveOffer(active, absent) = %v, want active", got)
	}

	allocated := false
	port, _ := LocalPort(SetupActive, 0, func() (int, error) { allocated = true; return 1, nil })
	if port != DefaultActivePort || allocated {
		t.Errorf("LocalPort(active) = %d allocated=%v", port, allocated)
	}
	port, _ = LocalPort(SetupPassive, 9, func() (int, error) { return 50123, nil })
	if port != 50123 {
		t.Errorf("LocalPort(passive) = %d, want 50123", port)
	}

	if _, err := ParseSetupRole("sideways"); !errors.Is(err, ErrInvalidSetup) {
		t.Errorf("ParseSetupRole() error = %v", err)
	}
}

func TestFileSelector(t *testing.T) {
	f, err := ParseFileSelector(`name:"my file.jpg" type:image/jpeg size:1024 hash:sha-1:AB`)
	if err != nil {
		t.Fatalf("ParseFileSelector() error = %v", err)
	}
	want := FileSelector{Name: "my file.jpg", Type: "image/jpeg", Size: 1024, Hash: "sha-1:AB"}
	if f != want {
		t.Errorf("ParseFileSelector() = %+v, want %+v", f, want)
	}
	if got := want.String(); got != `name:"my file.jpg" type:image/jpeg size:1024 hash:sha-1:AB` {
		t.Errorf("String() = %q", got)
	}
}

func TestFileSelector_UnknownSize(t *testing.T) {
	unknown := FileSelector{Name: "live.jpg", Type: "image/jpeg", Size: -1}
	if got := unknown.String(); got != `name:"live.jpg" type:image/jpeg` {
		t.Errorf("String() = %q, want no size", got)
	}
	f, err := ParseFileSelector(unknown.String())
	if err != nil {
		t.Fatalf("ParseFileSelector() error = %v", err)
	}
	if f != unknown {
		t.Errorf("ParseFileSelector() = %+v, want %+v", f, unknown)
	}

	n := newTestNegotiator(t, "10.0.0.1")
	ep := Endpoint{Port: 9, Protocol: transport.ProtocolTCP, Path: "msrp://10.0.0.1:9/abc;tcp", Setup: SetupActive}
	payload, err := n.CreateOffer(ep, FileInfo{TransferID: "ft-2", Name: "live.jpg", Type: "image/jpeg", Size: -1}, nil)
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}
	if strings.Contains(string(payload.Body), "size:") {
		t.Errorf("offer declares a size:\n%s", payload.Body)
	}
	r, err := ParseOffer(payload.Body, payload.ContentType)
	if err != nil {
		t.Fatalf("ParseOffer() error = %v", err)
	}
	if r.Selector.Size != -1 {
		t.Errorf("Selector.Size = %d, want -1", r.Selector.Size)
	}
}

func TestSplitPayload(t *testing.T) {
	body := "--boundary1\r\nContent-Type: application/sdp\r\n\r\nv=0\r\n" +
		"\r\n--boundary1\r\nContent-Type: image/jpeg\r\nContent-Transfer-Encoding: base64\r\n" +
		"Content-ID: <image@joyn.com>\r\nContent-Disposition: icon\r\n\r\n!!notbase64\r\n--boundary1--\r\n"
	if _, _, err := SplitPayload([]byte(body), "multipart/mixed; boundary=boundary1"); !errors.Is(err, ErrInvalidThumbnail) {
		t.Errorf("SplitPayload() error = %v, want %v", err, ErrInvalidThumbnail)
	}

	noSDP := "--boundary1\r\nContent-Type: text/plain\r\n\r\nx\r\n--boundary1--\r\n"
	if _, _, err := SplitPayload([]byte(noSDP), "multipart/mixed; boundary=boundary1"); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("SplitPayload() error = %v, want %v", err, ErrEmptyPayload)
	}
}
