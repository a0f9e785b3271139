// Package auth implements the client side of HTTP Digest authentication
// (RFC 2617, with the RFC 7616 SHA-256 algorithm).
//
// An Agent consumes WWW-Authenticate challenges and builds Authorization
// headers. It keeps the last challenge and a per-realm nonce counter.
// Credentials never appear in log output.
package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Errors.
var (
	// ErrNotDigest is returned for challenges of another scheme.
	ErrNotDigest = errors.New("auth: not a digest challenge")

	// ErrInvalidChallenge is returned when realm or nonce is missing.
	ErrInvalidChallenge = errors.New("auth: invalid challenge")

	// ErrNoChallenge is returned when a header is requested before any challenge.
	ErrNoChallenge = errors.New("auth: no challenge received")

	// ErrUnsupportedAlgorithm is returned for digest algorithms other than MD5 and SHA-256.
	ErrUnsupportedAlgorithm = errors.New("auth: unsupported algorithm")

	// ErrUnsupportedQOP is returned when the challenge offers no usable qop.
	ErrUnsupportedQOP = errors.New("auth: unsupported qop")

	// ErrResponseMismatch is returned by VerifyAuthorization for a wrong digest.
	ErrResponseMismatch = errors.New("auth: response mismatch")
)

// Quality of protection values.
const (
	QOPAuth    = "auth"
	QOPAuthInt = "auth-int"
)

// Challenge is a parsed Digest challenge. Optional parameters are nil when
// the server did not send them.
type Challenge struct {
	Realm     string
	Nonce     string
	Opaque    *string
	QOP       *string
	Algorithm *string
	Stale     bool
}

// ParseChallenge parses a WWW-Authenticate (or Proxy-Authenticate) value.
func ParseChallenge(header string) (*Challenge, error) {
	h := strings.TrimSpace(header)
	if len(h) < 6 || !strings.EqualFold(h[:6], "Digest") {
		return nil, ErrNotDigest
	}
	params := ParseParams(h[6:])

	realm, okRealm := params["realm"]
	nonce, okNonce := params["nonce"]
	if !okRealm || !okNonce || nonce == "" {
		return nil, fmt.Errorf("%w: realm or nonce missing", ErrInvalidChallenge)
	}

	c := &Challenge{Realm: realm, Nonce: nonce}
	if v, ok := params["opaque"]; ok {
		c.Opaque = &v
	}
	if v, ok := params["qop"]; ok {
		c.QOP = &v
	}
	if v, ok := params["algorithm"]; ok {
		c.Algorithm = &v
	}
	if v, ok := params["stale"]; ok {
		c.Stale = strings.EqualFold(v, "true")
	}
	return c, nil
}

// selectQOP picks the qop to answer with: auth when offered, else auth-int.
// It returns "" when the challenge carried no qop.
func (c *Challenge) selectQOP() (string, error) {
	if c.QOP == nil {
		return "", nil
	}
	var hasAuthInt bool
	for _, opt := range strings.Split(*c.QOP, ",") {
		switch strings.ToLower(strings.TrimSpace(opt)) {
		case QOPAuth:
			return QOPAuth, nil
		case QOPAuthInt:
			hasAuthInt = true
		}
	}
	if hasAuthInt {
		return QOPAuthInt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedQOP, *c.QOP)
}

// ParseParams scans a comma separated list of name=value and name="value"
// pairs. Names are lower-cased; quoted values keep their content verbatim.
func ParseParams(s string) map[string]string {
	params := make(map[string]string)
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == ',' || s[i] == '\t') {
			i++
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			break
		}
		name := strings.ToLower(strings.TrimSpace(s[i : i+eq]))
		i += eq + 1
		for i < len(s) && s[i] == ' ' {
			i++
		}

		var value string
		if i < len(s) && s[i] == '"' {
			i++
			var b strings.Builder
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				b.WriteByte(s[i])
				i++
			}
			i++ // closing quote
			value = b.String()
		} else {
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				end = len(s) - i
			}
			value = strings.TrimSpace(s[i : i+end])
			i += end
		}
		if name != "" {
			params[name] = value
		}
	}
	return params
}
