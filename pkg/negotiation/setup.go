// Package negotiation builds and parses the session descriptions of a file
// transfer (RFC 4566 offer/answer with the RFC 5547 file attributes) and
// resolves the connection setup role of RFC 4145.
//
// "active" endpoints connect outward, "passive" endpoints listen. After
// resolution exactly one side of a session is active.
package negotiation

import (
	"fmt"
	"strings"
)

// DefaultActivePort is advertised by an active endpoint. It never listens,
// so the discard port serves as a placeholder (RFC 4145).
const DefaultActivePort = 9

// SetupRole is the value of the a=setup attribute.
type SetupRole int

const (
	// SetupUnspecified means the attribute is absent.
	SetupUnspecified SetupRole = iota
	// SetupActive connects outward.
	SetupActive
	// SetupPassive listens.
	SetupPassive
	// SetupActPass lets the answerer choose.
	SetupActPass
	// SetupHoldConn defers the connection.
	SetupHoldConn
)

// String returns the attribute value of the role.
func (r SetupRole) String() string {
	switch r {
	case SetupActive:
		return "active"
	case SetupPassive:
		return "passive"
	case SetupActPass:
		return "actpass"
	case SetupHoldConn:
		return "holdconn"
	default:
		return ""
	}
}

// IsValid returns true for every role except SetupUnspecified.
func (r SetupRole) IsValid() bool {
	return r >= SetupActive && r <= SetupHoldConn
}

// ParseSetupRole decodes an a=setup value. Matching is case-insensitive.
func ParseSetupRole(s string) (SetupRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return SetupActive, nil
	case "passive":
		return SetupPassive, nil
	case "actpass":
		return SetupActPass, nil
	case "holdconn":
		return SetupHoldConn, nil
	default:
		return SetupUnspecified, fmt.Errorf("%w: %q", ErrInvalidSetup, s)
	}
}

// AnswerRole picks the local role when answering an offer.
// A remote active endpoint makes us passive; anything else, including an
// absent attribute, makes us active.
func AnswerRole(remote SetupRole) SetupRole {
	if remote == SetupActive {
		return SetupPassive
	}
	return SetupActive
}

// ResolveOffer returns the effective local role once the answer to a local
// offer is known. An absent answer role counts as passive.
func ResolveOffer(local, remote SetupRole) (SetupRole, error) {
	if remote == SetupUnspecified {
		remote = SetupPassive
	}
	switch {
	case local == SetupActive && remote == SetupPassive:
		return SetupActive, nil
	case local == SetupPassive && remote == SetupActive:
		return SetupPassive, nil
	case local == SetupActPass && remote == SetupActive:
		return SetupPassive, nil
	case local == SetupActPass && remote == SetupPassive:
		return SetupActive, nil
	default:
		return SetupUnspecified, fmt.Errorf("%w: local %s, remote %s", ErrRoleConflict, local, remote)
	}
}

// LocalPort returns the port to advertise for role. Active endpoints use
// activePort; passive and actpass endpoints get a fresh listening port from
// allocate, which must start listening before it returns.
func LocalPort(role SetupRole, activePort int, allocate func() (int, error)) (int, error) {
	if role == SetupActive {
		if activePort <= 0 {
			activePort = DefaultActivePort
		}
		return activePort, nil
	}
	return allocate()
}
