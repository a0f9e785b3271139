package auth

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Algorithm names.
const (
	AlgorithmMD5        = "MD5"
	AlgorithmMD5Sess    = "MD5-sess"
	AlgorithmSHA256     = "SHA-256"
	AlgorithmSHA256Sess = "SHA-256-sess"
)

// Credentials are the username and password used for digest responses.
type Credentials struct {
	Username string
	Password string
}

// AgentConfig configures an Agent.
type AgentConfig struct {
	Credentials Credentials

	// CNonce generates client nonces. Default: random UUID hex.
	CNonce func() string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Agent answers Digest challenges for one set of credentials.
// It is safe for concurrent use.
type Agent struct {
	creds  Credentials
	cnonce func() string
	log    logging.LeveledLogger

	mu        sync.Mutex
	challenge *Challenge
	counters  map[string]*nonceCounter
}

// nonceCounter counts requests made with one nonce of one realm.
type nonceCounter struct {
	nonce string
	count uint32
}

// NewAgent creates an agent without a challenge.
func NewAgent(config AgentConfig) *Agent {
	a := &Agent{
		creds:    config.Credentials,
		cnonce:   config.CNonce,
		counters: make(map[string]*nonceCounter),
	}
	if a.cnonce == nil {
		a.cnonce = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("auth")
	}
	return a
}

// ConsumeChallenge stores the challenge carried by a WWW-Authenticate value.
// It replaces any earlier challenge, including its opaque value.
func (a *Agent) ConsumeChallenge(header string) error {
	c, err := ParseChallenge(header)
	if err != nil {
		return err
	}
	if _, err := c.selectQOP(); err != nil {
		return err
	}
	if _, err := hashFor(c.Algorithm); err != nil {
		return err
	}

	a.mu.Lock()
	a.challenge = c
	a.mu.Unlock()

	if a.log != nil {
		a.log.Debugf("challenge for realm %q (stale=%v)", c.Realm, c.Stale)
	}
	return nil
}

// HasChallenge reports whether a challenge has been consumed.
func (a *Agent) HasChallenge() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.challenge != nil
}

// Realm returns the realm of the current challenge, or "".
func (a *Agent) Realm() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.challenge == nil {
		return ""
	}
	return a.challenge.Realm
}

// AuthorizationHeader builds the Authorization value for one request.
// body is hashed only when the challenge selected auth-int.
func (a *Agent) AuthorizationHeader(method, uri string, body []byte) (string, error) {
	a.mu.Lock()
	c := a.challenge
	if c == nil {
		a.mu.Unlock()
		return "", ErrNoChallenge
	}
	qop, _ := c.selectQOP()

	var nc, cnonce string
	if qop != "" {
		ctr := a.counters[c.Realm]
		if ctr == nil || ctr.nonce != c.Nonce {
			ctr = &nonceCounter{nonce: c.Nonce}
			a.counters[c.Realm] = ctr
		}
		ctr.count++
		nc = fmt.Sprintf("%08x", ctr.count)
		cnonce = a.cnonce()
	}
	a.mu.Unlock()

	p := digestParams{
		username:  a.creds.Username,
		password:  a.creds.Password,
		realm:     c.Realm,
		nonce:     c.Nonce,
		method:    method,
		uri:       uri,
		qop:       qop,
		nc:        nc,
		cnonce:    cnonce,
		algorithm: c.Algorithm,
		body:      body,
	}
	response, err := p.response()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		quote(a.creds.Username), quote(c.Realm), quote(c.Nonce), quote(uri), response)
	if c.Algorithm != nil {
		fmt.Fprintf(&b, ", algorithm=%s", *c.Algorithm)
	}
	if qop != "" {
		fmt.Fprintf(&b, `, cnonce="%s", nc=%s, qop=%s`, quote(cnonce), nc, qop)
	}
	if c.Opaque != nil {
		fmt.Fprintf(&b, `, opaque="%s"`, quote(*c.Opaque))
	}
	return b.String(), nil
}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

type digestParams struct {
	username, password string
	realm, nonce       string
	method, uri        string
	qop, nc, cnonce    string
	algorithm          *string
	body               []byte
}

func hashFor(algorithm *string) (func() hash.Hash, error) {
	if algorithm == nil {
		return md5.New, nil
	}
	switch strings.ToUpper(*algorithm) {
	case "MD5", "MD5-SESS":
		return md5.New, nil
	case "SHA-256", "SHA-256-SESS":
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, *algorithm)
	}
}

func (p digestParams) response() (string, error) {
	newHash, err := hashFor(p.algorithm)
	if err != nil {
		return "", err
	}
	h := func(parts ...string) string {
		d := newHash()
		d.Write([]byte(strings.Join(parts, ":")))
		return hex.EncodeToString(d.Sum(nil))
	}

	ha1 := h(p.username, p.realm, p.password)
	if p.algorithm != nil && strings.HasSuffix(strings.ToUpper(*p.algorithm), "-SESS") {
		ha1 = h(ha1, p.nonce, p.cnonce)
	}

	var ha2 string
	if p.qop == QOPAuthInt {
		d := newHash()
		d.Write(p.body)
		ha2 = h(p.method, p.uri, hex.EncodeToString(d.Sum(nil)))
	} else {
		ha2 = h(p.method, p.uri)
	}

	if p.qop == "" {
		return h(ha1, p.nonce, ha2), nil
	}
	return h(ha1, p.nonce, p.nc, p.cnonce, p.qop, ha2), nil
}

// VerifyAuthorization checks an Authorization value against the expected
// password. It is the server-side counterpart of AuthorizationHeader.
func VerifyAuthorization(header, method, password string, body []byte) error {
	h := strings.TrimSpace(header)
	if len(h) < 6 || !strings.EqualFold(h[:6], "Digest") {
		return ErrNotDigest
	}
	params := ParseParams(h[6:])
	p := digestParams{
		username: params["username"],
		password: password,
		realm:    params["realm"],
		nonce:    params["nonce"],
		method:   method,
		uri:      params["uri"],
		qop:      params["qop"],
		nc:       params["nc"],
		cnonce:   params["cnonce"],
		body:     body,
	}
	if alg, ok := params["algorithm"]; ok {
		p.algorithm = &alg
	}
	want, err := p.response()
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(params["response"])) != 1 {
		return ErrResponseMismatch
	}
	return nil
}
