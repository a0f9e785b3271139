package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"
)

func TestNetFactory_TCP(t *testing.T) {
	f := NewNetFactory(NetConfig{})

	l, err := f.Listen(NewTCPPeerAddress("127.0.0.1", 0))
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()

	port := PortOf(l.Addr())
	if port == 0 {
		t.Fatal("PortOf() = 0 for ephemeral listener")
	}

	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(c, c)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := f.Dial(ctx, NewTCPPeerAddress("127.0.0.1", port))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	c.Write([]byte("ping"))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("echo = %q, want %q", buf, "ping")
	}
}

func TestNetFactory_InvalidAddress(t *testing.T) {
	f := NewNetFactory(NetConfig{})
	if _, err := f.Dial(context.Background(), PeerAddress{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Dial() error = %v, want %v", err, ErrInvalidAddress)
	}
	if _, err := f.Listen(NewTLSPeerAddress("127.0.0.1", 0)); !errors.Is(err, ErrUnsupportedTransport) {
		t.Errorf("Listen(TLS) without certificate error = %v, want %v", err, ErrUnsupportedTransport)
	}
}

func selfSigned(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "rcs-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestFingerprint(t *testing.T) {
	cert := selfSigned(t)
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}

	for _, hash := range []string{HashSHA1, HashSHA256} {
		t.Run(hash, func(t *testing.T) {
			fp, err := Fingerprint(hash, cert.Certificate[0])
			if err != nil {
				t.Fatalf("Fingerprint() error = %v", err)
			}
			if !strings.HasPrefix(fp, hash+" ") {
				t.Errorf("Fingerprint() = %q, want %q prefix", fp, hash)
			}
			if err := VerifyFingerprint(fp, parsed); err != nil {
				t.Errorf("VerifyFingerprint() error = %v", err)
			}
		})
	}

	t.Run("mismatch", func(t *testing.T) {
		other := selfSigned(t)
		fp, _ := Fingerprint(HashSHA1, other.Certificate[0])
		if err := VerifyFingerprint(fp, parsed); !errors.Is(err, ErrFingerprintMismatch) {
			t.Errorf("VerifyFingerprint() error = %v, want %v", err, ErrFingerprintMismatch)
		}
	})

	t.Run("unsupported hash", func(t *testing.T) {
		if _, err := Fingerprint("MD2", nil); !errors.Is(err, ErrUnsupportedHash) {
			t.Errorf("Fingerprint() error = %v, want %v", err, ErrUnsupportedHash)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, _, err := ParseFingerprint("SHA-1"); err == nil {
			t.Error("ParseFingerprint() succeeded on malformed value")
		}
	})
}

func TestNetFactory_TLSFingerprint(t *testing.T) {
	cert := selfSigned(t)
	fp, _ := Fingerprint(HashSHA256, cert.Certificate[0])

	server := NewNetFactory(NetConfig{TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}}})
	client := NewNetFactory(NetConfig{})

	l, err := server.Listen(NewTLSPeerAddress("127.0.0.1", 0))
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()

	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(c, c)
	}()

	c, err := client.Dial(context.Background(), NewTLSPeerAddress("127.0.0.1", PortOf(l.Addr())))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if err := VerifyConnFingerprint(c, fp); err != nil {
		t.Errorf("VerifyConnFingerprint() error = %v", err)
	}
}

func TestPeerAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    PeerAddress
		wantErr bool
	}{
		{"10.0.0.1:2855", NewTCPPeerAddress("10.0.0.1", 2855), false},
		{"[::1]:9", NewTCPPeerAddress("::1", 9), false},
		{"nohost", PeerAddress{}, true},
		{"h:99999", PeerAddress{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePeerAddress(tt.in, TransportTypeTCP)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePeerAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParsePeerAddress() = %v, want %v", got, tt.want)
			}
		})
	}

	if TransportTypeTLS.Protocol() != ProtocolTLS || TransportTypeFromProtocol(ProtocolTCP) != TransportTypeTCP {
		t.Error("protocol mapping mismatch")
	}
}
