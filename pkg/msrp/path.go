package msrp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Path is an MSRP URI: msrp://host:port/session-id;tcp
type Path struct {
	Secured   bool
	Host      string
	Port      int
	SessionID string
}

// String encodes the path. Secured paths use the msrps scheme.
func (p Path) String() string {
	scheme := "msrp"
	if p.Secured {
		scheme = "msrps"
	}
	return fmt.Sprintf("%s://%s/%s;tcp", scheme, net.JoinHostPort(p.Host, strconv.Itoa(p.Port)), p.SessionID)
}

// ParsePath decodes an MSRP URI.
func ParsePath(s string) (Path, error) {
	var p Path
	rest, ok := strings.CutPrefix(s, "msrps://")
	if ok {
		p.Secured = true
	} else if rest, ok = strings.CutPrefix(s, "msrp://"); !ok {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}

	authority, resource, ok := strings.Cut(rest, "/")
	if !ok {
		return Path{}, fmt.Errorf("%w: no session id in %q", ErrInvalidPath, s)
	}
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		return Path{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if p.Port, err = strconv.Atoi(portStr); err != nil {
		return Path{}, fmt.Errorf("%w: port %q", ErrInvalidPath, portStr)
	}
	p.Host = host

	id, transport, _ := strings.Cut(resource, ";")
	if id == "" {
		return Path{}, fmt.Errorf("%w: empty session id in %q", ErrInvalidPath, s)
	}
	if transport != "" && !strings.EqualFold(transport, "tcp") {
		return Path{}, fmt.Errorf("%w: transport %q", ErrInvalidPath, transport)
	}
	p.SessionID = id
	return p, nil
}
