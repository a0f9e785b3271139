package rcs

import "errors"

var (
	// ErrIdentityRequired is returned when the config has no public identity.
	ErrIdentityRequired = errors.New("rcs: identity required")

	// ErrLocalHostRequired is returned when the config has no media address.
	ErrLocalHostRequired = errors.New("rcs: local host required")

	// ErrInvalidDuration is returned for a duration string that does not parse.
	ErrInvalidDuration = errors.New("rcs: invalid duration")

	// ErrInvalidLogLevel is returned for an unknown log level name.
	ErrInvalidLogLevel = errors.New("rcs: invalid log level")

	// ErrInvalidSetup is returned for an unknown offer setup role.
	ErrInvalidSetup = errors.New("rcs: invalid offer setup")

	// ErrNoXDM is returned when the document-sync client is not configured.
	ErrNoXDM = errors.New("rcs: xdm not configured")

	// ErrSignalingRequired is returned by NewStack without a signaling layer.
	ErrSignalingRequired = errors.New("rcs: signaling required")

	// ErrInvalidState is returned for a lifecycle call in the wrong state.
	ErrInvalidState = errors.New("rcs: invalid stack state")
)
