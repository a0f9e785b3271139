package transport

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"hash"
	"net"
	"strings"
)

// Fingerprint hash function names as used in a=fingerprint attributes (RFC 4572).
const (
	HashSHA1   = "SHA-1"
	HashSHA256 = "SHA-256"
)

func newHash(name string) (hash.Hash, error) {
	switch strings.ToUpper(name) {
	case HashSHA1:
		return sha1.New(), nil
	case HashSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, name)
	}
}

// Fingerprint returns the attribute value "<hash> AA:BB:..." for a DER certificate.
func Fingerprint(hashName string, der []byte) (string, error) {
	h, err := newHash(hashName)
	if err != nil {
		return "", err
	}
	h.Write(der)
	return strings.ToUpper(hashName) + " " + formatDigest(h.Sum(nil)), nil
}

func formatDigest(sum []byte) string {
	hexed := strings.ToUpper(hex.EncodeToString(sum))
	var b strings.Builder
	for i := 0; i < len(hexed); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hexed[i : i+2])
	}
	return b.String()
}

// ParseFingerprint splits an attribute value into hash name and digest bytes.
func ParseFingerprint(value string) (string, []byte, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("transport: malformed fingerprint %q", value)
	}
	if _, err := newHash(parts[0]); err != nil {
		return "", nil, err
	}
	digest, err := hex.DecodeString(strings.ReplaceAll(parts[1], ":", ""))
	if err != nil {
		return "", nil, fmt.Errorf("transport: malformed fingerprint digest: %w", err)
	}
	return strings.ToUpper(parts[0]), digest, nil
}

// VerifyFingerprint checks that cert matches the fingerprint attribute value.
func VerifyFingerprint(value string, cert *x509.Certificate) error {
	if cert == nil {
		return ErrNoPeerCertificate
	}
	name, want, err := ParseFingerprint(value)
	if err != nil {
		return err
	}
	h, _ := newHash(name)
	h.Write(cert.Raw)
	if subtle.ConstantTimeCompare(h.Sum(nil), want) != 1 {
		return ErrFingerprintMismatch
	}
	return nil
}

// VerifyConnFingerprint checks the peer certificate of a TLS connection.
// Non-TLS connections have nothing to verify and return nil.
func VerifyConnFingerprint(conn net.Conn, value string) error {
	tc, ok := conn.(*tls.Conn)
	if !ok || value == "" {
		return nil
	}
	if err := tc.Handshake(); err != nil {
		return err
	}
	certs := tc.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return ErrNoPeerCertificate
	}
	return VerifyFingerprint(value, certs[0])
}
